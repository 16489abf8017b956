package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/endodetect/endodetect/internal/images"
	"github.com/endodetect/endodetect/internal/models"
	"github.com/endodetect/endodetect/internal/render"
	"github.com/endodetect/endodetect/internal/upload"
	"github.com/spf13/cobra"
)

func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the detection models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			available, err := a.client.Models(cmd.Context())
			if err != nil {
				return userError(err)
			}
			served := make(map[string]bool, len(available))
			for _, id := range available {
				served[id] = true
			}

			var list []models.ModelInfo
			for _, m := range models.Catalog {
				if served[m.ID] {
					list = append(list, m)
				}
			}
			return a.emit(cmd.OutOrStdout(), list, func() string {
				var b strings.Builder
				for _, m := range list {
					marker := " "
					if m.ID == models.DefaultModel {
						marker = "*"
					}
					fmt.Fprintf(&b, "%s %-10s %s\n", marker, m.ID, m.Label)
				}
				return strings.TrimRight(b.String(), "\n")
			})
		},
	}
}

type uploadOutput struct {
	Message string         `json:"message" yaml:"message"`
	Panels  []upload.Panel `json:"results" yaml:"results"`
}

func newUploadCmd(a *app) *cobra.Command {
	var meta upload.Metadata
	var previews bool
	var saveDir string

	cmd := &cobra.Command{
		Use:   "upload IMAGE...",
		Short: "Upload images for detection",
		Long: fmt.Sprintf(`Uploads up to %d images in one batch with the patient details and shows
the detection results for each image. Extra files are ignored.`, upload.MaxFiles),
		Example: `  endodetect upload frame1.png frame2.png --patient-name "Jane Doe" --patient-id P-104
  endodetect upload *.jpg --model unet --notes "follow-up"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			var opts []upload.Option
			if previews {
				opts = append(opts, upload.WithThumbnailDir(filepath.Join(a.cfg.StateDir, "previews")))
			}
			flow := upload.New(a.client, opts...)

			if len(args) > upload.MaxFiles {
				fmt.Fprintf(cmd.ErrOrStderr(), "Only the first %d files will be uploaded.\n", upload.MaxFiles)
			}
			if _, err := flow.SelectFiles(args); err != nil {
				return err
			}

			if a.cfg.Output == outputTable {
				fmt.Fprintln(out, render.Muted("Uploading & scanning…"))
			}
			if _, err := flow.Submit(ctx, meta); err != nil {
				return userError(err)
			}

			panels := flow.Panels()
			if saveDir != "" {
				fetcher := images.NewFetcher()
				for i, p := range panels {
					pair, err := fetcher.FetchResult(ctx, i, p.Result, saveDir)
					if err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "Image %d: %s\n", i+1, err)
						continue
					}
					slog.Info("Saved result images", "image", p.Preview.Name, "processed", pair.ProcessedPath)
				}
			}
			return a.emit(out, uploadOutput{Message: flow.Message(), Panels: panels}, func() string {
				var b strings.Builder
				b.WriteString(flow.Message())
				for i, p := range panels {
					fmt.Fprintf(&b, "\n\n%s\n", render.Title(fmt.Sprintf("Image %d: %s", i+1, render.Text(p.Preview.Name))))
					fmt.Fprintf(&b, "Processed: %s\n", render.Text(p.Result.ProcessedImageURL))
					if p.Preview.Thumbnail != "" {
						fmt.Fprintf(&b, "Preview:   %s\n", p.Preview.Thumbnail)
					}
					b.WriteString(render.Result(p.Result.Result))
				}
				return b.String()
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&meta.PatientName, "patient-name", "", "Patient name")
	flags.StringVar(&meta.PatientID, "patient-id", "", "Patient ID")
	flags.StringVar(&meta.Notes, "notes", "", "Free-text notes")
	flags.StringVarP(&meta.Model, "model", "m", models.DefaultModel, "Detection model (see 'endodetect models')")
	flags.BoolVar(&previews, "previews", false, "Write preview thumbnails to the state directory")
	flags.StringVar(&saveDir, "save", "", "Download the original and processed images into this directory")
	return cmd
}
