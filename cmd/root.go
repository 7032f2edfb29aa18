package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/segload/internal/config"
	httpdl "github.com/tanq16/segload/internal/downloaders/http"
	"github.com/tanq16/segload/internal/output"
	"github.com/tanq16/segload/internal/progresslog"
	"github.com/tanq16/segload/internal/utils"
)

var (
	configPath string
	fileName   string
	headers    []string
)

var SegloadVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "segload [URL]",
	Short:   "Segload is a resumable multi-connection HTTP downloader",
	Version: SegloadVersion,
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			cmd.Help()
			return
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := runDownload(ctx, cfg, args[0]); err != nil {
			fmt.Println()
			output.PrintError(err.Error())
			os.Exit(1)
		}
	},
}

func Execute() {
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newStatusCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringP("output", "d", ".", "Output directory")
	rootCmd.Flags().StringVarP(&fileName, "name", "n", "", "Output file name (inferred from the URL or server if not provided)")
	rootCmd.Flags().IntP("connections", "c", utils.DefaultConnections, "Number of parallel connections (above 8 enables high-thread-mode)")
	rootCmd.Flags().DurationP("interval", "i", utils.DefaultUpdateInterval, "Progress update interval")
	rootCmd.Flags().Bool("resume", true, "Resume from and record to the progress log")
	rootCmd.Flags().Int("buffer-size", utils.DefaultBufferSize, "Read buffer size per connection in bytes")
	rootCmd.Flags().Duration("connect-timeout", utils.DefaultConnectTimeout, "Connection timeout (eg. 5s, 1m)")
	rootCmd.Flags().Duration("stall-timeout", 0, "Restart a connection that receives no data for this long (0 disables)")
	rootCmd.Flags().Int("retries", 10, "Retries per segment before giving up (0 retries forever)")
	rootCmd.Flags().StringP("user-agent", "a", utils.ToolUserAgent, "User agent (use 'randomize' for a random browser agent)")
	rootCmd.Flags().StringP("proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.Flags().String("proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.Flags().String("proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.Flags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")

	// shared with subcommands
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.segload/config.yaml when present)")
	rootCmd.PersistentFlags().String("store", progresslog.DriverSQLite, "Progress log backend (sqlite or yaml)")
	rootCmd.PersistentFlags().String("store-path", "", "Progress log location (default under ~/.segload)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}
	extra, err := utils.ParseHeaderArgs(headers)
	if err != nil {
		return nil, err
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	for k, v := range extra {
		cfg.Headers[k] = v
	}
	utils.InitLogger(cfg.Debug)
	return cfg, nil
}

func runDownload(ctx context.Context, cfg *config.Config, link string) error {
	var store progresslog.Store
	if cfg.Resume {
		s, err := cfg.OpenStore()
		if err != nil {
			return fmt.Errorf("error opening progress log: %w", err)
		}
		defer s.Close()
		store = s
	}
	job := httpdl.Job{
		URL:            link,
		OutputDir:      cfg.OutputDir,
		FileName:       fileName,
		Connections:    cfg.Connections,
		Resume:         cfg.Resume,
		UpdateInterval: cfg.UpdateInterval,
	}
	coordinator := httpdl.NewCoordinator(job, utils.NewClient(cfg.ClientConfig()), store, cfg.DownloadOptions())
	printer := output.NewProgressPrinter(os.Stdout, progressLabel(link, fileName))

	res, err := coordinator.Download(ctx, printer.Update)
	printer.Finish()
	if err != nil {
		return err
	}
	if !res.Completed {
		output.PrintWarning(fmt.Sprintf("Stopped at %s of %s, run the same command again to resume (%s)",
			output.FormatBytes(uint64(res.Downloaded)), output.FormatBytes(uint64(res.TotalSize)), res.Path))
		return nil
	}
	output.PrintSuccess(fmt.Sprintf("Downloaded %s %s %s in %s (%s)",
		link, output.StyleSymbols["arrow"], res.Path, res.Elapsed.Round(time.Millisecond),
		output.FormatSpeed(res.TotalSize, res.Elapsed)))
	return nil
}

func progressLabel(link, name string) string {
	if name != "" {
		return name
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return link
	}
	if base := path.Base(parsed.Path); base != "/" && base != "." {
		return base
	}
	return parsed.Host
}
