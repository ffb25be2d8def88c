package boot

import (
	"fmt"
	"strings"
	"time"
)

// BlockDevice selects the boot media holding the images.
type BlockDevice int

const (
	// MMC is the SD card slot.
	MMC BlockDevice = iota
	// USB is a USB mass storage device.
	USB
)

func (d BlockDevice) String() string {
	switch d {
	case MMC:
		return "mmc"
	case USB:
		return "usb"
	default:
		return fmt.Sprintf("blockdevice(%d)", int(d))
	}
}

// ParseBlockDevice parses "mmc" or "usb".
func ParseBlockDevice(s string) (BlockDevice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mmc":
		return MMC, nil
	case "usb":
		return USB, nil
	default:
		return 0, fmt.Errorf("unknown block device %q (want mmc or usb)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d BlockDevice) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *BlockDevice) UnmarshalText(text []byte) error {
	v, err := ParseBlockDevice(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Default load addresses and names for the DE10-Pro FreeBSD boot.
const (
	DefaultLoaderAddr     uint64 = 0x02000000
	DefaultDeviceTreeAddr uint64 = 0x08000000
	DefaultCoreImage             = "socfpga.core.rbf"
	DefaultLoader                = "efi/boot/bootaa64.efi"
	DefaultKernel                = "kernel-arm64-s10"
	DefaultDeviceTree            = "socfpga_stratix10_de10_pro2.dtb"
)

// Board holds everything the console dialogue depends on. Names are
// relative to the first FAT partition of the boot device.
type Board struct {
	BlockDevice    BlockDevice
	CoreImage      string
	Loader         string
	Kernel         string
	DeviceTree     string
	LoaderAddr     uint64
	DeviceTreeAddr uint64

	// AutobootTimeout bounds the wait for the U-Boot autoboot banner,
	// which follows FPGA programming and board reset.
	AutobootTimeout time.Duration
	// CommandTimeout bounds every other prompt wait. Zero uses the
	// console default.
	CommandTimeout time.Duration
}

// DefaultBoard returns the board settings used by the lab DE10-Pro.
func DefaultBoard() Board {
	return Board{
		BlockDevice:    MMC,
		CoreImage:      DefaultCoreImage,
		Loader:         DefaultLoader,
		Kernel:         DefaultKernel,
		DeviceTree:     DefaultDeviceTree,
		LoaderAddr:     DefaultLoaderAddr,
		DeviceTreeAddr: DefaultDeviceTreeAddr,
	}
}

// fatPartition is the U-Boot "<interface> <dev>:<part>" argument pair.
func (b Board) fatPartition() string {
	return b.BlockDevice.String() + " 0:1"
}

// loaderDisks returns the EFI loader's names for the FAT and UFS partitions.
func (b Board) loaderDisks() (fat, ufs string) {
	if b.BlockDevice == USB {
		return "disk1s1:", "disk1s2:"
	}
	return "disk0s1:", "disk0s2:"
}
