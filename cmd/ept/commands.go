package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ippclub/better-ept/internal/model"
	"github.com/ippclub/better-ept/pkg/fetch"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func newParseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "parse <descriptor>",
		Short: "Print the fields of a package descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := model.Parse(args[0])
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(struct {
				model.Package `yaml:",inline"`
				Descriptor    string `yaml:"descriptor"`
				Archive       string `yaml:"archive"`
			}{pkg, pkg.String(), pkg.ArchivePath()})
		},
	}
}

func newURLCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "url <descriptor>",
		Short: "Print the download url of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := model.Parse(args[0])
			if err != nil {
				return err
			}
			base, err := a.resolveBaseURL()
			if err != nil {
				return err
			}

			u, err := pkg.DownloadURL(base)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u.String())
			return nil
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <descriptor>",
		Short: "Download the archive of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := model.Parse(args[0])
			if err != nil {
				return err
			}
			base, err := a.resolveBaseURL()
			if err != nil {
				return err
			}
			if output == "" {
				output = pkg.ArchiveName()
			}

			start := time.Now()
			a.log.Debug("fetching package", zap.String("descriptor", pkg.String()), zap.String("base_url", base))

			resp, err := fetch.Get(cmd.Context(), pkg, base)
			if err != nil {
				var ne *model.NetworkError
				if errors.As(err, &ne) {
					a.log.Debug("repository rejected request", zap.Int("status", ne.Response.StatusCode))
				}
				return err
			}
			defer resp.Body.Close()

			n, err := writeFile(output, resp.Body)
			if err != nil {
				return err
			}

			a.log.Debug("package downloaded",
				zap.String("descriptor", pkg.String()),
				zap.String("file", output),
				zap.Int64("bytes", n),
				zap.Duration("duration", time.Since(start)),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%d bytes)\n", pkg, output, n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file (default ./<name>_<version>_<author>.7z)")
	return cmd
}

// writeFile copies r into path through a temporary file so a failed
// download never leaves a partial archive behind
func writeFile(path string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ept-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to write archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("failed to move archive into place: %w", err)
	}
	return n, nil
}
