package commands

import (
	"errors"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"manifestdb/pkg/meta"
	"manifestdb/pkg/publisher"
	"manifestdb/pkg/storage"
	"manifestdb/pkg/storage/disk"
	"manifestdb/pkg/types"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	lsDstDir string
	lsExact  bool
)

var lsCmd = &cobra.Command{
	Use:   "ls [--exact] [PREFIX|TAG]",
	Short: "List published manifests from the index",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if MDB == nil {
			return fmt.Errorf("app not initialized")
		}
		ctx := cmd.Context()

		// --dstdir 未显式给出时沿用 preprocess.dstdir
		dst := lsDstDir
		if !cmd.Flags().Changed("dstdir") {
			dst = viper.GetString("preprocess.dstdir")
		}
		dstDir, err := filepath.Abs(dst)
		if err != nil {
			return finish(err)
		}
		repo, err := MDB.OpenIndex(ctx, dstDir)
		if err != nil {
			return finish(err)
		}

		var pubs []meta.Publication
		switch {
		case lsExact:
			// 精确查找单个 tag
			if len(args) != 1 {
				return finish(fmt.Errorf("--exact needs a TAG argument"))
			}
			p, err := repo.GetPublication(ctx, args[0])
			if err != nil {
				return finish(err)
			}
			if err := describe(cmd, dstDir, repo, p); err != nil {
				return finish(err)
			}
			pubs = append(pubs, *p)
		default:
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			if pubs, err = repo.ListPublications(ctx, prefix); err != nil {
				return finish(err)
			}
		}
		if len(pubs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No publications found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		for _, p := range pubs {
			urls, err := p.URLMap()
			if err != nil {
				return finish(err)
			}
			fmt.Fprintf(w, "%s\t%s\t%d sources\t%s\n",
				p.Tag, p.Checksum, len(urls), p.PublishedAt.Local().Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

// describe 打印单个发布的详情：源文件、对象校验结果、共享同一对象的其他 tag
func describe(cmd *cobra.Command, dstDir string, repo *meta.Repository, p *meta.Publication) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "source: %s (%d bytes)\n", p.SourcePath, p.Size)

	sum, err := types.ParseChecksum(p.Checksum)
	if err != nil {
		return err
	}
	store, err := disk.NewAdapter(filepath.Join(dstDir, publisher.DirByChecksum))
	if err != nil {
		return err
	}
	switch err := store.Verify(ctx, sum); {
	case err == nil:
		fmt.Fprintf(out, "object: %s ✅\n", store.Path(sum))
	case errors.Is(err, storage.ErrNotFound):
		fmt.Fprintf(out, "object: %s (missing)\n", store.Path(sum))
	default:
		return err
	}

	shared, err := repo.FindByChecksum(ctx, p.Checksum)
	if err != nil {
		return err
	}
	for _, other := range shared {
		if other.Tag != p.Tag {
			fmt.Fprintf(out, "same as: %s\n", other.Tag)
		}
	}
	return nil
}

func init() {
	lsCmd.Flags().StringVar(&lsDstDir, "dstdir", ".", "destination directory")
	lsCmd.Flags().BoolVar(&lsExact, "exact", false, "look up one tag instead of listing a prefix")
	rootCmd.AddCommand(lsCmd)
}
