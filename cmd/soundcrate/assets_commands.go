package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"soundcrate/internal/api"
)

func newAssetsCommand(ctx *commandContext) *cobra.Command {
	assetsCmd := &cobra.Command{
		Use:   "assets",
		Short: "Manage stored assets",
	}

	assetsCmd.AddCommand(newAssetsListCommand(ctx))
	assetsCmd.AddCommand(newAssetsShowCommand(ctx))
	assetsCmd.AddCommand(newAssetsSetCommand(ctx))
	assetsCmd.AddCommand(newAssetsTrashCommand(ctx))
	assetsCmd.AddCommand(newAssetsRestoreCommand(ctx))
	assetsCmd.AddCommand(newAssetsShareCommand(ctx))
	assetsCmd.AddCommand(newAssetsTranscodeCommand(ctx))

	return assetsCmd
}

func newAssetsListCommand(ctx *commandContext) *cobra.Command {
	var includeTrashed bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			path := "/api/assets"
			if includeTrashed {
				path += "?trashed=1"
			}
			var resp api.AssetListResponse
			if err := client.getJSON(cmd.Context(), path, &resp); err != nil {
				return err
			}

			if len(resp.Assets) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No assets.")
				return nil
			}
			rows := make([][]string, 0, len(resp.Assets))
			for _, asset := range resp.Assets {
				rows = append(rows, []string{
					asset.ID,
					truncate(asset.Title, 40),
					formatBytes(asset.SizeBytes),
					asset.Visibility,
					asset.Lifecycle,
					fmt.Sprintf("%d", asset.ViewCount+asset.DownloadCount),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Title", "Size", "Visibility", "State", "Serves"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeTrashed, "trashed", false, "Include trashed assets")
	return cmd
}

func newAssetsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <asset-id>",
		Short: "Show one asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var resp api.AssetResponse
			if err := client.getJSON(cmd.Context(), "/api/assets/"+args[0], &resp); err != nil {
				return err
			}
			printAsset(cmd, resp.Asset)
			return nil
		},
	}
}

func printAsset(cmd *cobra.Command, asset api.Asset) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:         %s\n", asset.ID)
	fmt.Fprintf(out, "Title:      %s\n", asset.Title)
	fmt.Fprintf(out, "Size:       %s\n", formatBytes(asset.SizeBytes))
	fmt.Fprintf(out, "Type:       %s\n", asset.MimeType)
	fmt.Fprintf(out, "Visibility: %s\n", asset.Visibility)
	fmt.Fprintf(out, "State:      %s\n", asset.Lifecycle)
	fmt.Fprintf(out, "Protected:  %v\n", asset.Protected)
	if asset.ShareToken != "" {
		fmt.Fprintf(out, "Share:      %s\n", asset.ShareToken)
	}
	if asset.ExpiresAt != "" {
		fmt.Fprintf(out, "Expires:    %s\n", asset.ExpiresAt)
	}
	if asset.DerivedFrom != "" {
		fmt.Fprintf(out, "Derived:    %s\n", asset.DerivedFrom)
	}
	fmt.Fprintf(out, "Serves:     %d views, %d downloads\n", asset.ViewCount, asset.DownloadCount)
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var title string
	var container string
	var mimeType string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("stat %s: %w", args[0], err)
			}

			contentType := strings.TrimSpace(mimeType)
			if contentType == "" {
				contentType = mime.TypeByExtension(filepath.Ext(args[0]))
			}
			if contentType == "" {
				return fmt.Errorf("cannot determine content type for %s, pass --type", args[0])
			}
			uploadTitle := title
			if uploadTitle == "" {
				uploadTitle = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			var resp api.AssetResponse
			if err := client.upload(cmd.Context(), f, info.Size(), contentType, uploadTitle, container, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if resp.Outcome == "duplicate" {
				fmt.Fprintf(out, "Already stored as %s (no new bytes charged)\n", resp.Asset.ID)
			} else {
				fmt.Fprintf(out, "Stored %s (%s)\n", resp.Asset.ID, formatBytes(resp.Asset.SizeBytes))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Asset title (defaults to the file name)")
	cmd.Flags().StringVar(&container, "container", "", "Container to file the asset under")
	cmd.Flags().StringVar(&mimeType, "type", "", "Content type override")
	return cmd
}

func newAssetsSetCommand(ctx *commandContext) *cobra.Command {
	var title string
	var visibility string
	var password string
	var clearPassword bool
	var expiresAt string
	var clearExpiration bool

	cmd := &cobra.Command{
		Use:   "set <asset-id>",
		Short: "Update asset settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			payload := map[string]any{}
			if cmd.Flags().Changed("title") {
				payload["title"] = title
			}
			if cmd.Flags().Changed("visibility") {
				payload["visibility"] = visibility
			}
			if clearPassword {
				payload["password"] = ""
			} else if cmd.Flags().Changed("password") {
				payload["password"] = password
			}
			if clearExpiration {
				payload["expiresAt"] = ""
			} else if cmd.Flags().Changed("expires") {
				payload["expiresAt"] = expiresAt
			}
			if len(payload) == 0 {
				return fmt.Errorf("nothing to update, pass at least one flag")
			}

			var resp api.AssetResponse
			if err := client.patchJSON(cmd.Context(), "/api/assets/"+args[0], payload, &resp); err != nil {
				return err
			}
			printAsset(cmd, resp.Asset)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVar(&visibility, "visibility", "", "public or private")
	cmd.Flags().StringVar(&password, "password", "", "Protect with a password")
	cmd.Flags().BoolVar(&clearPassword, "clear-password", false, "Remove password protection")
	cmd.Flags().StringVar(&expiresAt, "expires", "", "Expiration timestamp (RFC3339)")
	cmd.Flags().BoolVar(&clearExpiration, "clear-expires", false, "Remove the expiration schedule")
	return cmd
}

func newAssetsTrashCommand(ctx *commandContext) *cobra.Command {
	var permanent bool

	cmd := &cobra.Command{
		Use:   "trash <asset-id>",
		Short: "Move an asset to the trash, or delete it permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			path := "/api/assets/" + args[0]
			if permanent {
				path += "?permanent=1"
			}
			if err := client.delete(cmd.Context(), path); err != nil {
				return err
			}
			if permanent {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s permanently\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Moved %s to trash\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&permanent, "permanent", false, "Delete immediately instead of trashing")
	return cmd
}

func newAssetsRestoreCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <asset-id>",
		Short: "Restore an asset from the trash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var resp api.AssetResponse
			if err := client.postJSON(cmd.Context(), "/api/assets/"+args[0]+"/restore", nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s\n", resp.Asset.ID)
			return nil
		},
	}
}

func newAssetsShareCommand(ctx *commandContext) *cobra.Command {
	var revoke bool

	cmd := &cobra.Command{
		Use:   "share <asset-id>",
		Short: "Mint or revoke a share link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if revoke {
				if err := client.delete(cmd.Context(), "/api/assets/"+args[0]+"/share"); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked share link for %s\n", args[0])
				return nil
			}

			var link api.ShareLink
			if err := client.postJSON(cmd.Context(), "/api/assets/"+args[0]+"/share", nil, &link); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Link:  %s\n", link.URL)
			fmt.Fprintf(out, "Embed: %s\n", link.EmbedURL)
			return nil
		},
	}

	cmd.Flags().BoolVar(&revoke, "revoke", false, "Revoke the existing share link")
	return cmd
}

func newAssetsTranscodeCommand(ctx *commandContext) *cobra.Command {
	var format string
	var bitrate int

	cmd := &cobra.Command{
		Use:   "transcode <asset-id>",
		Short: "Queue a transcode to another format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			payload := map[string]any{"format": format, "bitrate": bitrate}
			var resp api.JobResponse
			if err := client.postJSON(cmd.Context(), "/api/assets/"+args[0]+"/transcode", payload, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued job %d (%s", resp.Job.ID, resp.Job.TargetFormat)
			if resp.Job.TargetBitrate != "" && resp.Job.TargetBitrate != "0" {
				fmt.Fprintf(cmd.OutOrStdout(), " @ %sk", resp.Job.TargetBitrate)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ")")
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "mp3", "Target format (mp3, opus, aac, flac, ogg)")
	cmd.Flags().IntVar(&bitrate, "bitrate", 0, "Target bitrate in kbit/s (0 lets the encoder pick)")
	return cmd
}
