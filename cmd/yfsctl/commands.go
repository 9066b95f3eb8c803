package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/ansel1/merry"
	"github.com/spf13/cobra"

	"github.com/codeworm96/cse-labs/common"
	"github.com/codeworm96/cse-labs/disk"
	"github.com/codeworm96/cse-labs/extent"
	"github.com/codeworm96/cse-labs/fs"
)

var (
	formatBlocks uint64
	formatInodes uint64
)

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Write an empty file system to the image",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		p := c.Params()
		if cmd.Flags().Changed("nblocks") {
			p.NBlocks = formatBlocks
		}
		if cmd.Flags().Changed("ninodes") {
			p.NInodes = formatInodes
		}
		store, err := disk.NewFileStore(c.Image, p.NBlocks*common.PHYSPERLOG)
		if err != nil {
			return err
		}
		fsys, err := fs.Format(store, p)
		if err != nil {
			store.Close()
			return err
		}
		st := fsys.Stat()
		fmt.Fprintf(cmd.OutOrStdout(), "formatted %s: volume %v, %d blocks, %d inode slots\n",
			c.Image, st.Volume, st.NBlocks, st.Log.NInodes)
		return fsys.Close()
	},
}

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "Show capacity, version and ECC counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return openImage(func(_ *extent.Server, fsys *fs.FS) error {
			st := fsys.Stat()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "volume:       %v\n", st.Volume)
			fmt.Fprintf(w, "blocks:       %d (%d free, data from %d)\n",
				st.NBlocks, st.FreeBlocks, st.DataStart)
			fmt.Fprintf(w, "version:      %d\n", st.Log.Version)
			fmt.Fprintf(w, "log:          end %d, top %d, %d slots\n",
				st.Log.End, st.Log.Top, st.Log.NInodes)
			fmt.Fprintf(w, "last inum:    %d\n", st.Log.NextInode)
			fmt.Fprintf(w, "ecc:          %d corrected, %d recovered, %d uncorrectable\n",
				st.ECC.Corrected, st.ECC.Recovered, st.ECC.Uncorrectable)
			return nil
		})
	},
}

func parseType(s string) (uint64, error) {
	switch s {
	case "file":
		return common.T_FILE, nil
	case "dir":
		return common.T_DIR, nil
	case "symlink":
		return common.T_SYMLINK, nil
	}
	return 0, merry.Errorf("unknown inode type %q", s)
}

func parseInum(s string) (common.Inum, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return common.NULLINUM, merry.Prependf(err, "inode number")
	}
	return common.Inum(n), nil
}

var createCmd = &cobra.Command{
	Use:   "create [file|dir|symlink]",
	Short: "Allocate an inode and print its number",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t := common.T_FILE
		if len(args) == 1 {
			var err error
			if t, err = parseType(args[0]); err != nil {
				return err
			}
		}
		return openImage(func(s *extent.Server, _ *fs.FS) error {
			inum, st := s.Create(t)
			if err := check("create", st); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), inum)
			return nil
		})
	},
}

var putCmd = &cobra.Command{
	Use:   "put <inum> [file]",
	Short: "Replace the content of an inode with a file or stdin",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		inum, err := parseInum(args[0])
		if err != nil {
			return err
		}
		var data []byte
		if len(args) == 2 && args[1] != "-" {
			data, err = os.ReadFile(args[1])
		} else {
			data, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return err
		}
		return openImage(func(s *extent.Server, _ *fs.FS) error {
			return check("put", s.Put(inum, data))
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <inum>",
	Short: "Write the content of an inode to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inum, err := parseInum(args[0])
		if err != nil {
			return err
		}
		return openImage(func(s *extent.Server, _ *fs.FS) error {
			data, st := s.Get(inum)
			if err := check("get", st); err != nil {
				return err
			}
			_, err := cmd.OutOrStdout().Write(data)
			return err
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <inum>",
	Short: "Remove an inode and free its blocks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inum, err := parseInum(args[0])
		if err != nil {
			return err
		}
		return openImage(func(s *extent.Server, _ *fs.FS) error {
			return check("rm", s.Remove(inum))
		})
	},
}

func versionCmd(use string, short string, op func(s *extent.Server) extent.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return openImage(func(s *extent.Server, fsys *fs.FS) error {
				if err := check(use, op(s)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d\n", fsys.Stat().Log.Version)
				return nil
			})
		},
	}
}

func init() {
	formatCmd.Flags().Uint64Var(&formatBlocks, "nblocks", 0, "logical blocks (default from config)")
	formatCmd.Flags().Uint64Var(&formatInodes, "ninodes", 0, "inode log slots (default from config)")

	rootCmd.AddCommand(
		formatCmd,
		statCmd,
		createCmd,
		putCmd,
		getCmd,
		rmCmd,
		versionCmd("commit", "Close the current version", (*extent.Server).Commit),
		versionCmd("undo", "Return to the previous version", (*extent.Server).Undo),
		versionCmd("redo", "Move forward to the next version", (*extent.Server).Redo),
	)
}
