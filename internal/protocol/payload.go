package protocol

import "encoding/binary"

// SyncData returns the data payload for a SYNC command.
func SyncData() []byte {
	// SYNC payload: 0x07 0x07 0x12 0x20 followed by 32 bytes of 0x55
	data := make([]byte, 36)
	data[0] = 0x07
	data[1] = 0x07
	data[2] = 0x12
	data[3] = 0x20
	for i := 4; i < 36; i++ {
		data[i] = 0x55
	}
	return data
}

// FlashBeginData creates the data payload for FLASH_BEGIN command.
func FlashBeginData(eraseSize, numBlocks, blockSize, offset uint32) []byte {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data[0:4], eraseSize)
	binary.LittleEndian.PutUint32(data[4:8], numBlocks)
	binary.LittleEndian.PutUint32(data[8:12], blockSize)
	binary.LittleEndian.PutUint32(data[12:16], offset)
	return data
}

// FlashDataHeaderSize is the prefix FLASH_DATA carries before the
// block bytes. The frame checksum covers only the bytes after it.
const FlashDataHeaderSize = 16

// FlashDataBlock creates the data payload for FLASH_DATA command.
// The block is sent as-is; padding to the write-block size is the
// caller's concern.
func FlashDataBlock(block []byte, seq uint32) []byte {
	payload := make([]byte, FlashDataHeaderSize+len(block))
	binary.LittleEndian.PutUint32(payload[0:4], uint32(len(block)))
	binary.LittleEndian.PutUint32(payload[4:8], seq)
	binary.LittleEndian.PutUint32(payload[8:12], 0)
	binary.LittleEndian.PutUint32(payload[12:16], 0)
	copy(payload[FlashDataHeaderSize:], block)
	return payload
}

// FlashEndData creates the data payload for FLASH_END command.
// A zero flag leaves the chip in the bootloader; one reboots it.
func FlashEndData(reboot bool) []byte {
	data := make([]byte, 4)
	if reboot {
		binary.LittleEndian.PutUint32(data, 1)
	}
	return data
}

// ReadRegData creates the data payload for READ_REG command.
func ReadRegData(addr uint32) []byte {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, addr)
	return data
}

// WriteRegData creates the data payload for WRITE_REG command.
func WriteRegData(addr, value, mask, delay uint32) []byte {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data[0:4], addr)
	binary.LittleEndian.PutUint32(data[4:8], value)
	binary.LittleEndian.PutUint32(data[8:12], mask)
	binary.LittleEndian.PutUint32(data[12:16], delay)
	return data
}

// SpiAttachData creates the data payload for SPI_ATTACH command.
// All zeros selects the default SPI flash configuration.
func SpiAttachData() []byte {
	return make([]byte, 8)
}

// SpiSetParamsData creates the data payload for SPI_SET_PARAMS command.
func SpiSetParamsData(totalSize uint32) []byte {
	data := make([]byte, 24)
	binary.LittleEndian.PutUint32(data[0:4], 0) // id
	binary.LittleEndian.PutUint32(data[4:8], totalSize)
	binary.LittleEndian.PutUint32(data[8:12], 0x10000)
	binary.LittleEndian.PutUint32(data[12:16], FlashSectorSize)
	binary.LittleEndian.PutUint32(data[16:20], FlashPageSize)
	binary.LittleEndian.PutUint32(data[20:24], 0xFFFF) // status mask
	return data
}

// ChangeBaudData creates the data payload for CHANGE_BAUDRATE command.
func ChangeBaudData(baud uint32) []byte {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], baud)
	binary.LittleEndian.PutUint32(data[4:8], 0)
	return data
}

// FlashMD5Data creates the data payload for SPI_FLASH_MD5 command.
func FlashMD5Data(offset, size uint32) []byte {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data[0:4], offset)
	binary.LittleEndian.PutUint32(data[4:8], size)
	binary.LittleEndian.PutUint32(data[8:12], 0)
	binary.LittleEndian.PutUint32(data[12:16], 0)
	return data
}
