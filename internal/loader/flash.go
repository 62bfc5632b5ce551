package loader

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bigbag/esploader/internal/chip"
	"github.com/bigbag/esploader/internal/protocol"
)

// FlashBegin starts a write of size bytes at offset: on ESP32 it first
// attaches the SPI flash and programs its parameters, then issues
// FLASH_BEGIN, which performs the erase. Returns the number of
// 1024-byte blocks the transfer will take.
func (s *Session) FlashBegin(size, offset uint32) (uint32, error) {
	family, err := s.ChipType()
	if err != nil {
		return 0, err
	}

	if family == chip.ESP32 {
		if s.flashSize == 0 {
			return 0, fmt.Errorf("flash begin: flash size not configured")
		}
		if _, _, err := s.checkCommand(protocol.CmdSpiAttach, protocol.SpiAttachData(), defaultTimeout); err != nil {
			return 0, fmt.Errorf("SPI attach: %w", err)
		}
		params := protocol.SpiSetParamsData(s.flashSize)
		if _, _, err := s.checkCommand(protocol.CmdSpiSetParams, params, defaultTimeout); err != nil {
			return 0, fmt.Errorf("SPI set params: %w", err)
		}
	}

	numBlocks := (size + protocol.FlashBlockSize - 1) / protocol.FlashBlockSize

	// The ESP8266 ROM over-erases at erase-block boundaries; the
	// shortened erase length compensates. The ESP32 ROM erases
	// exactly what it is told.
	eraseSize := size
	if family == chip.ESP8266 {
		eraseSize = protocol.EraseSize(offset, size)
	}

	begin := protocol.FlashBeginData(eraseSize, numBlocks, protocol.FlashBlockSize, offset)
	if _, _, err := s.checkCommand(protocol.CmdFlashBegin, begin, flashBeginTimeout); err != nil {
		return 0, fmt.Errorf("flash begin: %w", err)
	}

	s.logger.Debug("flash begin", "offset", fmt.Sprintf("0x%X", offset), "size", size,
		"blocks", numBlocks, "erase", eraseSize)
	return numBlocks, nil
}

// flashStream sends size bytes from r as sequenced FLASH_DATA blocks.
// The final block is padded with 0xFF to the full write-block size.
func (s *Session) flashStream(r io.Reader, size, offset uint32) error {
	numBlocks, err := s.FlashBegin(size, offset)
	if err != nil {
		return err
	}

	block := make([]byte, protocol.FlashBlockSize)
	for seq := uint32(0); seq < numBlocks; seq++ {
		n, err := io.ReadFull(r, block)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			for i := n; i < len(block); i++ {
				block[i] = 0xFF
			}
		} else if err != nil {
			return fmt.Errorf("read block %d: %w", seq, err)
		}

		payload := protocol.FlashDataBlock(block, seq)
		if _, _, err := s.checkCommand(protocol.CmdFlashData, payload, flashDataTimeout); err != nil {
			return fmt.Errorf("flash data block %d: %w", seq, err)
		}

		if s.progress != nil {
			s.progress(int(seq)+1, int(numBlocks))
		}
	}

	return nil
}

// FlashImage writes data to flash at offset. With a non-empty
// expectedMD5 and an ESP32 target, the written region is read back
// through the ROM's MD5 command and verified.
func (s *Session) FlashImage(data []byte, offset uint32, expectedMD5 string) error {
	if err := s.flashStream(bytes.NewReader(data), uint32(len(data)), offset); err != nil {
		return err
	}
	return s.verify(uint32(len(data)), offset, expectedMD5)
}

// FlashFile streams the file at path to flash at offset, then verifies
// like FlashImage.
func (s *Session) FlashFile(path string, offset uint32, expectedMD5 string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open firmware: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat firmware: %w", err)
	}

	if err := s.flashStream(f, uint32(info.Size()), offset); err != nil {
		return err
	}
	return s.verify(uint32(info.Size()), offset, expectedMD5)
}

func (s *Session) verify(size, offset uint32, expectedMD5 string) error {
	if expectedMD5 == "" || s.family != chip.ESP32 {
		return nil
	}

	digest, err := s.MD5(offset, size)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if !strings.EqualFold(digest, expectedMD5) {
		return fmt.Errorf("%w: flash has %s, expected %s", ErrMd5Mismatch, digest, expectedMD5)
	}

	s.logger.Debug("flash verified", "offset", fmt.Sprintf("0x%X", offset), "md5", digest)
	return nil
}

// MD5 asks the ESP32 ROM for the MD5 digest of size bytes of flash at
// offset and returns it as a lowercase hex string.
func (s *Session) MD5(offset, size uint32) (string, error) {
	family, err := s.ChipType()
	if err != nil {
		return "", err
	}
	if family != chip.ESP32 {
		return "", fmt.Errorf("flash MD5: %w", ErrNotSupported)
	}

	if _, _, err := s.checkCommand(protocol.CmdSpiAttach, protocol.SpiAttachData(), defaultTimeout); err != nil {
		return "", fmt.Errorf("SPI attach: %w", err)
	}

	payload := protocol.FlashMD5Data(offset, size)
	_, body, err := s.checkCommand(protocol.CmdSpiFlashMD5, payload, md5Timeout)
	if err != nil {
		return "", fmt.Errorf("flash MD5: %w", err)
	}
	if len(body) < 32 {
		return "", fmt.Errorf("flash MD5: short digest: %d bytes", len(body))
	}

	return strings.ToLower(string(body[:32])), nil
}

// FlashFinish ends a flash transfer. With reboot the chip leaves the
// bootloader and starts the freshly written application.
func (s *Session) FlashFinish(reboot bool) error {
	_, _, err := s.checkCommand(protocol.CmdFlashEnd, protocol.FlashEndData(reboot), defaultTimeout)
	if err != nil {
		return fmt.Errorf("flash end: %w", err)
	}
	return nil
}
