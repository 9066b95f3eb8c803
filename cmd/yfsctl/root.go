package main

import (
	"fmt"
	"os"

	"github.com/ansel1/merry"
	"github.com/spf13/cobra"

	"github.com/codeworm96/cse-labs/common"
	"github.com/codeworm96/cse-labs/config"
	"github.com/codeworm96/cse-labs/disk"
	"github.com/codeworm96/cse-labs/extent"
	"github.com/codeworm96/cse-labs/fs"
)

var (
	configPath string
	imagePath  string
	strictECC  bool
)

var rootCmd = &cobra.Command{
	Use:   "yfsctl",
	Short: "Inspect and modify a versioned yfs disk image",
	Long: `yfsctl operates on a yfs disk image: an ECC-protected block store
holding a versioned inode log.

Commands:
  format      Write an empty file system
  stat        Show capacity, version and ECC counters
  create      Allocate an inode
  put/get/rm  Write, read or remove inode content
  commit      Close the current version
  undo/redo   Move between committed versions`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		c.Apply()
		return nil
	},
}

// Execute runs the command line.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./yfs.yaml)")
	rootCmd.PersistentFlags().StringVarP(&imagePath, "image", "i", "", "disk image (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&strictECC, "strict", false, "fail reads on uncorrectable blocks")
}

func loadConfig() (*config.Config, error) {
	c, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if imagePath != "" {
		c.Image = imagePath
	}
	if strictECC {
		c.StrictECC = true
	}
	return c, nil
}

// openImage opens the configured image and runs f against it.
func openImage(f func(s *extent.Server, fsys *fs.FS) error) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	nphys, err := disk.FileBlocks(c.Image)
	if err != nil {
		return err
	}
	store, err := disk.NewFileStore(c.Image, nphys)
	if err != nil {
		return err
	}
	fsys, err := fs.Open(store, c.Options())
	if err != nil {
		store.Close()
		return merry.Prependf(err, "open %s", c.Image)
	}
	ferr := f(extent.MkServer(fsys), fsys)
	if err := fsys.Close(); err != nil && ferr == nil {
		return err
	}
	return ferr
}

func check(op string, st extent.Status) error {
	switch st {
	case extent.OK:
		return nil
	case extent.NOENT:
		return merry.Prependf(common.ErrNotFound, "%s", op)
	case extent.NOSPACE:
		return merry.Prependf(common.ErrNoSpace, "%s", op)
	}
	return merry.Errorf("%s: %v", op, st)
}
