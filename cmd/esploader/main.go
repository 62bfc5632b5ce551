package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/esploader/internal/gpio"
	"github.com/bigbag/esploader/internal/loader"
	"github.com/bigbag/esploader/internal/plan"
	"github.com/bigbag/esploader/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	portFlag      string
	baudFlag      int
	highBaudFlag  int
	gpio0Flag     string
	resetFlag     string
	flashSizeFlag uint32
	debugFlag     bool

	offsetFlag uint32
	md5Flag    string
	planFlag   string
	noRunFlag  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "esploader",
		Short: "Program ESP8266/ESP32 chips through the ROM serial bootloader",
		Long: `esploader talks directly to the first-stage bootloader burned into
the mask ROM of ESP8266 and ESP32 chips: it resets the chip into
programming mode, identifies it, and writes firmware images into the
external SPI flash. No second-stage stub is uploaded.

The chip's GPIO0 and RESET lines are driven either through the serial
adapter's DTR/RTS signals (the usual auto-reset circuit, the default)
or through named GPIO pins of the host with --gpio0/--reset.`,
	}

	rootCmd.PersistentFlags().StringVarP(&portFlag, "port", "p", "", "Serial port (required)")
	rootCmd.PersistentFlags().IntVarP(&baudFlag, "baud", "b", 115200, "Initial baud rate")
	rootCmd.PersistentFlags().StringVar(&gpio0Flag, "gpio0", "", "Host GPIO pin wired to chip GPIO0 (default: DTR)")
	rootCmd.PersistentFlags().StringVar(&resetFlag, "reset", "", "Host GPIO pin wired to chip RESET (default: RTS)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Dump protocol frames")

	flashCmd := &cobra.Command{
		Use:   "flash [firmware.bin]",
		Short: "Flash firmware to device",
		Long: `Flash one firmware image at --offset, or several described by a
YAML plan file:

  images:
    - file: bootloader.bin
      offset: 0x1000
      md5: 4035b2317251ecb51894a02802c1912d
    - file: app.bin
      offset: 0x10000

MD5 verification runs on ESP32 targets when a digest is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runFlash,
	}
	flashCmd.Flags().Uint32Var(&offsetFlag, "offset", 0, "Flash offset for a single image")
	flashCmd.Flags().StringVar(&md5Flag, "md5", "", "Expected MD5 of the image (ESP32 verify)")
	flashCmd.Flags().StringVar(&planFlag, "plan", "", "YAML flash plan instead of a single image")
	flashCmd.Flags().Uint32Var(&flashSizeFlag, "flash-size", 4*1024*1024, "Total SPI flash capacity in bytes (ESP32)")
	flashCmd.Flags().IntVar(&highBaudFlag, "high-baud", 0, "Switch to this baud rate after sync (ESP32)")
	flashCmd.Flags().BoolVar(&noRunFlag, "no-run", false, "Leave the chip in the bootloader when done")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show device info",
		Long:  "Reset the chip into its bootloader and report chip name, MAC address and efuses.",
		RunE:  runInfo,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("esploader %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	rootCmd.AddCommand(flashCmd, infoCmd, versionCmd, listCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openSession opens the serial port and builds a loader session with
// the selected reset lines.
func openSession() (*loader.Session, *serial.Port, error) {
	if portFlag == "" {
		return nil, nil, fmt.Errorf("--port is required")
	}

	port, err := serial.Open(portFlag, baudFlag)
	if err != nil {
		return nil, nil, err
	}

	var gpio0, reset loader.Line
	if gpio0Flag != "" || resetFlag != "" {
		if gpio0Flag == "" || resetFlag == "" {
			port.Close()
			return nil, nil, fmt.Errorf("--gpio0 and --reset must be given together")
		}
		if gpio0, err = gpio.OpenPin(gpio0Flag); err != nil {
			port.Close()
			return nil, nil, err
		}
		if reset, err = gpio.OpenPin(resetFlag); err != nil {
			port.Close()
			return nil, nil, err
		}
	} else {
		gpio0 = &gpio.DTRLine{Port: port}
		reset = &gpio.RTSLine{Port: port}
	}

	logger := log.New(os.Stderr)
	sess, err := loader.New(loader.Config{
		Port:      port,
		GPIO0:     gpio0,
		Reset:     reset,
		FlashSize: flashSizeFlag,
		Baud:      baudFlag,
		Logger:    logger,
	})
	if err != nil {
		port.Close()
		return nil, nil, err
	}
	sess.SetDebug(debugFlag)

	return sess, port, nil
}

func runFlash(cmd *cobra.Command, args []string) error {
	var images []plan.Image
	switch {
	case planFlag != "" && len(args) > 0:
		return fmt.Errorf("give either a firmware file or --plan, not both")
	case planFlag != "":
		p, err := plan.Load(planFlag)
		if err != nil {
			return err
		}
		images = p.Images
	case len(args) == 1:
		images = []plan.Image{{File: args[0], Offset: plan.Offset(offsetFlag), MD5: md5Flag}}
	default:
		return fmt.Errorf("firmware file or --plan is required")
	}

	sess, port, err := openSession()
	if err != nil {
		return err
	}
	defer port.Close()

	fmt.Printf("Port: %s @ %d baud\n", portFlag, baudFlag)
	fmt.Println("Connecting to bootloader...")
	if err := sess.Connect(); err != nil {
		return err
	}

	name, err := sess.ChipName()
	if err != nil {
		return err
	}
	mac, err := sess.MACAddr()
	if err != nil {
		return err
	}
	fmt.Printf("Found %s (MAC %02x:%02x:%02x:%02x:%02x:%02x)\n",
		name, mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])

	if highBaudFlag != 0 {
		if err := sess.SetBaudrate(highBaudFlag); err != nil {
			return fmt.Errorf("high baud: %w", err)
		}
		fmt.Printf("Switched to %d baud\n", highBaudFlag)
	}

	for _, img := range images {
		info, err := os.Stat(img.File)
		if err != nil {
			return fmt.Errorf("stat firmware: %w", err)
		}

		fmt.Printf("\nFlashing %s at 0x%X (%d bytes)...\n", img.File, uint32(img.Offset), info.Size())
		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Flashing"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowBytes(false),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(100),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		sess.SetProgressCallback(func(written, total int) {
			bar.ChangeMax(total)
			bar.Set(written)
		})

		if err := sess.FlashFile(img.File, uint32(img.Offset), img.MD5); err != nil {
			return err
		}
		bar.Finish()
	}

	fmt.Println("\nFlash complete!")

	if !noRunFlag {
		fmt.Println("Resetting device...")
		if err := sess.Reset(false); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}

	fmt.Println("Done!")
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	sess, port, err := openSession()
	if err != nil {
		return err
	}
	defer port.Close()

	if err := sess.Connect(); err != nil {
		return err
	}

	family, err := sess.ChipType()
	if err != nil {
		return err
	}
	name, err := sess.ChipName()
	if err != nil {
		return err
	}
	mac, err := sess.MACAddr()
	if err != nil {
		return err
	}
	efuses, err := sess.Efuses()
	if err != nil {
		return err
	}

	fmt.Printf("  Port:    %s\n", portFlag)
	fmt.Printf("  Family:  %s\n", family)
	fmt.Printf("  Chip:    %s\n", name)
	fmt.Printf("  MAC:     %02x:%02x:%02x:%02x:%02x:%02x\n",
		mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
	fmt.Printf("  Efuses:  %08X %08X %08X %08X\n", efuses[0], efuses[1], efuses[2], efuses[3])

	// Leave the chip running its application
	return sess.Reset(false)
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}

	return nil
}
