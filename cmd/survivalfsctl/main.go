// Command survivalfsctl is the external CLI collaborator spec.md §6.4
// calls out as legitimate but out of the core's own scope: command parsing,
// argument handling, and exit codes live here, never inside a driver
// package. Grounded on the teacher's cmd/main.go (a bare cli.App with a
// Commands slice, log.Fatalf on a failed Run) and cmd/unzipimage/main.go
// (explicit os.Open/os.Create plus defer Close(), os.Exit on a specific
// failure), with subcommand naming (ls/cat/info/format) following
// dsoprea/go-exfat's own exfat_list_contents/exfat_extract_file/
// exfat_print_boot_sector_header tools.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/levkropp/survivalfs/dispatch"
	"github.com/levkropp/survivalfs/fat32"
)

const defaultBlockSize = 512

func main() {
	app := cli.App{
		Usage: "Inspect and write exFAT, NTFS, and FAT32 survival-workstation disk images",
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Format a file as a fresh FAT32 volume",
				Action:    formatImage,
				ArgsUsage: "IMAGE_PATH",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "size-mb", Value: 128, Usage: "image size in mebibytes"},
					&cli.UintFlag{Name: "block-size", Value: defaultBlockSize, Usage: "device block size in bytes"},
				},
			},
			{
				Name:      "ls",
				Usage:     "List a directory's entries",
				Action:    listDir,
				ArgsUsage: "IMAGE_PATH PATH",
				Flags:     mountFlags(),
			},
			{
				Name:      "cat",
				Usage:     "Print a file's contents to stdout",
				Action:    catFile,
				ArgsUsage: "IMAGE_PATH PATH",
				Flags:     mountFlags(),
			},
			{
				Name:      "info",
				Usage:     "Print volume label and space usage",
				Action:    volumeInfo,
				ArgsUsage: "IMAGE_PATH",
				Flags:     mountFlags(),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func mountFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "fstype", Required: true, Usage: "exfat or ntfs"},
		&cli.UintFlag{Name: "block-size", Value: defaultBlockSize, Usage: "device block size in bytes"},
	}
}

// openDispatcher opens imagePath and mounts it through dispatch according
// to the --fstype flag, per spec.md §4.7's closed ExFat/Ntfs/SimpleFS tag
// set (this CLI never drives the SimpleFS tag: there is no firmware to
// stand in for on a host machine).
func openDispatcher(imagePath string, fstype string, blockSize uint) (*dispatch.Dispatcher, *os.File, error) {
	f, err := os.OpenFile(imagePath, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", imagePath, err)
	}

	read, write := fileFuncs(f, blockSize)
	d := dispatch.New()
	switch fstype {
	case "exfat":
		err = d.MountExFat(blockSize, read, write)
	case "ntfs":
		err = d.MountNTFS(blockSize, read, write)
	default:
		f.Close()
		return nil, nil, fmt.Errorf("unknown --fstype %q: must be exfat or ntfs", fstype)
	}
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("mounting %s as %s: %w", imagePath, fstype, err)
	}
	return d, f, nil
}

func formatImage(ctx *cli.Context) error {
	imagePath := ctx.Args().Get(0)
	if imagePath == "" {
		return fmt.Errorf("format requires an IMAGE_PATH argument")
	}
	blockSize := uint(ctx.Uint("block-size"))
	sizeBytes := ctx.Uint64("size-mb") * 1024 * 1024
	totalSectors := uint32(sizeBytes / uint64(blockSize))

	f, err := os.Create(imagePath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", imagePath, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(sizeBytes)); err != nil {
		return fmt.Errorf("sizing %s: %w", imagePath, err)
	}

	read, write := fileFuncs(f, blockSize)
	if ferr := fat32.Format(blockSize, totalSectors, 0, read, write); ferr != nil {
		return fmt.Errorf("formatting %s: %w", imagePath, ferr)
	}

	fmt.Printf("Formatted %s as FAT32 (%s)\n", imagePath, humanize.Bytes(sizeBytes))
	return nil
}

func listDir(ctx *cli.Context) error {
	imagePath, path := ctx.Args().Get(0), ctx.Args().Get(1)
	if imagePath == "" || path == "" {
		return fmt.Errorf("ls requires IMAGE_PATH and PATH arguments")
	}
	d, f, err := openDispatcher(imagePath, ctx.String("fstype"), uint(ctx.Uint("block-size")))
	if err != nil {
		return err
	}
	defer f.Close()
	defer d.Unmount()

	entries, rerr := d.ReadDir(dispatch.NewChar16Path(path))
	if rerr != nil {
		return fmt.Errorf("readdir %s: %w", path, rerr)
	}
	for _, e := range entries {
		kind := "-"
		if e.IsDir {
			kind = "d"
		}
		fmt.Printf("%s %10s  %s\n", kind, humanize.Bytes(e.Size), e.Name)
	}
	return nil
}

func catFile(ctx *cli.Context) error {
	imagePath, path := ctx.Args().Get(0), ctx.Args().Get(1)
	if imagePath == "" || path == "" {
		return fmt.Errorf("cat requires IMAGE_PATH and PATH arguments")
	}
	d, f, err := openDispatcher(imagePath, ctx.String("fstype"), uint(ctx.Uint("block-size")))
	if err != nil {
		return err
	}
	defer f.Close()
	defer d.Unmount()

	data, rerr := d.ReadFile(dispatch.NewChar16Path(path))
	if rerr != nil {
		return fmt.Errorf("readfile %s: %w", path, rerr)
	}
	_, werr := os.Stdout.Write(data)
	return werr
}

func volumeInfo(ctx *cli.Context) error {
	imagePath := ctx.Args().Get(0)
	if imagePath == "" {
		return fmt.Errorf("info requires an IMAGE_PATH argument")
	}
	d, f, err := openDispatcher(imagePath, ctx.String("fstype"), uint(ctx.Uint("block-size")))
	if err != nil {
		return err
	}
	defer f.Close()
	defer d.Unmount()

	info := d.VolumeInfo()
	fmt.Printf("Label:      %s\n", d.Label())
	fmt.Printf("Total size: %s\n", humanize.Bytes(info.TotalBytes))
	fmt.Printf("Free space: %s\n", humanize.Bytes(info.FreeBytes))
	return nil
}
