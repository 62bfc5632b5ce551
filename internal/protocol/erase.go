package protocol

// EraseSize returns the erase length to pass to FLASH_BEGIN on ESP8266.
// The ROM bootloader erases one extra 64KB block when a write region
// crosses an erase-block boundary; shrinking the requested length by the
// head sectors compensates, so the ROM ends up erasing exactly the
// sectors covering the region.
func EraseSize(offset, size uint32) uint32 {
	numSectors := (size + FlashSectorSize - 1) / FlashSectorSize
	startSector := offset / FlashSectorSize

	headSectors := FlashSectorsPerBlock - startSector%FlashSectorsPerBlock
	if numSectors < headSectors {
		headSectors = numSectors
	}

	if numSectors < 2*headSectors {
		return (numSectors + 1) / 2 * FlashSectorSize
	}
	return (numSectors - headSectors) * FlashSectorSize
}
