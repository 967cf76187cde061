package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v2"

	"github.com/programadorcaro/nenoflix-uploader/internal/logging"
	"github.com/programadorcaro/nenoflix-uploader/internal/uploader"
	"github.com/programadorcaro/nenoflix-uploader/pkg/protocol"
)

const version = "v0.1.0"

func main() {
	app := &cli.App{
		Name:    "nenoflix",
		Usage:   "resilient chunked uploads to a nenoflixd server",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Value:   "http://localhost:8080",
				Usage:   "nenoflixd server URL",
				EnvVars: []string{"NENOFLIX_SERVER"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				Usage:   "log level (debug, info, warn, error)",
				EnvVars: []string{"NENOFLIX_LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			uploadCmd,
			statusCmd,
			watchCmd,
			foldersCmd,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "nenoflix:", err)
		os.Exit(1)
	}
}

var uploadCmd = &cli.Command{
	Name:      "upload",
	Usage:     "upload a media file, resuming any interrupted transfer",
	ArgsUsage: "<file>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "folder",
			Usage: "library folder to place the file in",
		},
		&cli.StringFlag{
			Name:  "dest",
			Usage: "explicit destination directory under the media root",
		},
		&cli.StringFlag{
			Name:  "name",
			Usage: "destination file name (defaults to the source name)",
		},
		&cli.StringFlag{
			Name:  "records-dir",
			Usage: "directory for resume records",
			Value: defaultRecordsDir(),
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("exactly one file argument is required")
		}
		filePath, err := filepath.Abs(c.Args().First())
		if err != nil {
			return err
		}

		logger := logging.New("nenoflix", c.String("log-level"), "text")

		var records *uploader.RecordStore
		if dir := c.String("records-dir"); dir != "" {
			records, err = uploader.OpenRecordStore(dir)
			if err != nil {
				return fmt.Errorf("open resume records: %w", err)
			}
			defer records.Close()
		}

		orch, err := uploader.New(uploader.Options{
			ServerURL:       c.String("server"),
			FilePath:        filePath,
			FileName:        c.String("name"),
			FolderName:      c.String("folder"),
			DestinationPath: c.String("dest"),
			Logger:          logger,
			Records:         records,
		})
		if err != nil {
			return err
		}
		orch.OnProgress(printProgress)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		path, err := orch.Run(ctx)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}
		fmt.Printf("uploaded %s -> %s\n", filepath.Base(filePath), path)
		return nil
	},
}

var statusCmd = &cli.Command{
	Name:      "status",
	Usage:     "show the server-side state of an upload session",
	ArgsUsage: "<upload-id>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("exactly one upload-id argument is required")
		}
		st, err := fetchStatus(c.String("server"), c.Args().First())
		if err != nil {
			return err
		}
		printStatus(st)
		return nil
	},
}

var watchCmd = &cli.Command{
	Name:      "watch",
	Usage:     "stream live status for an upload session",
	ArgsUsage: "<upload-id>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("exactly one upload-id argument is required")
		}
		return watchStatus(c.String("server"), c.Args().First())
	},
}

var foldersCmd = &cli.Command{
	Name:  "folders",
	Usage: "list library folders on the server",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "path",
			Usage: "subdirectory of the media root to list",
		},
	},
	Action: func(c *cli.Context) error {
		url := serverBase(c.String("server")) + "/folders"
		if p := c.String("path"); p != "" {
			url += "?path=" + p
		}
		resp, err := http.Get(url)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		var out protocol.FoldersResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return err
		}
		if !out.Success {
			return fmt.Errorf("server error: %s", out.Error)
		}
		for _, f := range out.Folders {
			fmt.Println(f)
		}
		return nil
	},
}

func defaultRecordsDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "nenoflix", "uploads")
}

func serverBase(url string) string {
	if !strings.HasPrefix(url, "http") {
		url = "http://" + url
	}
	return strings.TrimRight(url, "/")
}

func fetchStatus(serverURL, uploadID string) (protocol.StatusResponse, error) {
	var st protocol.StatusResponse
	resp, err := http.Get(serverBase(serverURL) + "/upload/status/" + uploadID)
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return st, fmt.Errorf("upload %s not found", uploadID)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, err
	}
	if !st.Success {
		return st, fmt.Errorf("server error: %s", st.Error)
	}
	return st, nil
}

// watchStatus follows the server's websocket status stream until the
// upload finishes or the stream closes.
func watchStatus(serverURL, uploadID string) error {
	wsURL := serverBase(serverURL)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/upload/events/" + uploadID

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("upload %s not found", uploadID)
		}
		return fmt.Errorf("connect to status stream: %w", err)
	}
	defer conn.Close()

	for {
		var st protocol.StatusResponse
		if err := conn.ReadJSON(&st); err != nil {
			fmt.Fprintln(os.Stderr)
			return nil
		}
		fmt.Fprintf(os.Stderr, "\r%3.0f%%  %d/%d chunks  %s",
			st.ProgressPercent, st.ReceivedChunks, st.TotalChunks, fmtBytes(st.UploadedBytes))
		if st.IsComplete {
			fmt.Fprintln(os.Stderr)
			fmt.Println("upload complete")
			return nil
		}
	}
}

func printStatus(st protocol.StatusResponse) {
	fmt.Printf("upload:    %s\n", st.UploadID)
	fmt.Printf("file:      %s\n", st.FileName)
	fmt.Printf("chunks:    %d/%d received\n", st.ReceivedChunks, st.TotalChunks)
	fmt.Printf("bytes:     %s (%.1f%%)\n", fmtBytes(st.UploadedBytes), st.ProgressPercent)
	if len(st.MissingChunks) > 0 {
		fmt.Printf("missing:   %v\n", st.MissingChunks)
	}
	fmt.Printf("complete:  %v\n", st.IsComplete)
	if st.StagingFileExists {
		fmt.Printf("staged:    %s\n", fmtBytes(st.StagingFileSize))
	}
}

func printProgress(u uploader.ProgressUpdate) {
	eta := "--"
	if u.ETA > 0 {
		eta = u.ETA.Round(time.Second).String()
	}
	fmt.Fprintf(os.Stderr, "\r%3.0f%%  %s / %s  %s/s  eta %s   ",
		u.Percent, fmtBytes(u.BytesDone), fmtBytes(u.TotalBytes),
		fmtBytes(int64(u.RateBps)), eta)
}

func fmtBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
