package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/storagekit/pkg/storage"
)

func newUploadCmd(g *globalFlags) *cobra.Command {
	var (
		contentType string
		metadata    map[string]string
	)

	cmd := &cobra.Command{
		Use:   "upload <key> <file>",
		Short: "Upload a local file under key",
		Long: `Upload reads the file and stores it under key. Without --content-type the
type is detected from the file contents and extension.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[1], err)
			}
			if contentType == "" {
				contentType = storage.DetectContentType(data, filepath.Base(args[1]))
			}

			s, ctx, cancel, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			res, err := s.Upload(ctx, args[0], data, contentType, metadata)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&contentType, "content-type", "", "Content type (detected when empty)")
	cmd.Flags().StringToStringVarP(&metadata, "meta", "m", nil, "Metadata entries as key=value")

	return cmd
}

func newDownloadCmd(g *globalFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download <key>",
		Short: "Download an object to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ctx, cancel, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			res, err := s.Download(ctx, args[0])
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(res.Data)
				return err
			}
			if err := os.WriteFile(output, res.Data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d bytes, %s\n", output, res.Size, res.ContentType)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (stdout when empty or -)")

	return cmd
}

func newDeleteCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete an object; deleting a missing object succeeds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ctx, cancel, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			return s.Delete(ctx, args[0])
		},
	}
}

func newExistsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <key>",
		Short: "Print whether an object exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ctx, cancel, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			ok, err := s.Exists(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	}
}

func newURLCmd(g *globalFlags) *cobra.Command {
	var expires time.Duration

	cmd := &cobra.Command{
		Use:   "url <key>",
		Short: "Print the access URL of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ctx, cancel, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			u, err := s.GetURL(ctx, args[0], expires)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}

	cmd.Flags().DurationVarP(&expires, "expires", "e", 0, "URL lifetime (provider default when zero)")

	return cmd
}

func newPresignCmd(g *globalFlags) *cobra.Command {
	var (
		op      string
		expires time.Duration
	)

	cmd := &cobra.Command{
		Use:   "presign <key>",
		Short: "Print a presigned URL for get or put",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ctx, cancel, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			u, err := s.GeneratePresignedURL(ctx, args[0], storage.Operation(op), expires)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}

	cmd.Flags().StringVar(&op, "op", string(storage.OperationGet), "Operation (get, put)")
	cmd.Flags().DurationVarP(&expires, "expires", "e", 0, "URL lifetime (provider default when zero)")

	return cmd
}

func newMetaCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "meta <key>",
		Short: "Print object metadata as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ctx, cancel, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			md, err := s.GetMetadata(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), md)
		},
	}
}

func newCopyCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "copy <source> <destination>",
		Short: "Copy an object within the store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ctx, cancel, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			return s.Copy(ctx, args[0], args[1])
		},
	}
}

// newKeyCmd needs no store: key generation is a pure function.
func newKeyCmd() *cobra.Command {
	var folder, prefix string

	cmd := &cobra.Command{
		Use:   "key <file-name>",
		Short: "Generate a unique object key for a file name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), storage.GenerateKey(folder, args[0], prefix))
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Folder the key is placed in")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Prefix placed before the folder")

	return cmd
}
