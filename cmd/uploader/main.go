package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/3Eeeecho/go-chunkupload/internal/client"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "uploader",
		Usage: "resumable chunked upload client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Value:   "http://localhost:8080",
				Usage:   "upload service base URL",
				EnvVars: []string{"CHUNKUPLOAD_SERVER"},
			},
			&cli.StringFlag{
				Name:    "owner",
				Usage:   "owner id sent with every request",
				EnvVars: []string{"CHUNKUPLOAD_OWNER"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "bearer token, its subject overrides --owner",
				EnvVars: []string{"CHUNKUPLOAD_TOKEN"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "upload a file, resuming an existing session with --session",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "session", Usage: "session id to resume"},
					&cli.StringFlag{Name: "name", Usage: "file name stored on the server (default: base name of <file>)"},
				},
				Action: uploadAction,
			},
			{
				Name:      "status",
				Usage:     "show the progress of a session",
				ArgsUsage: "<session-id>",
				Action:    statusAction,
			},
			{
				Name:      "cancel",
				Usage:     "cancel a session and delete its chunks",
				ArgsUsage: "<session-id>",
				Action:    cancelAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newAPI(c *cli.Context) *client.HTTPClient {
	var opts []client.ClientOption
	if token := c.String("token"); token != "" {
		opts = append(opts, client.WithToken(token))
	}
	return client.NewHTTPClient(c.String("server"), opts...)
}

func uploadAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: uploader upload [--session id] <file>", 2)
	}
	path := c.Args().First()
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	name := c.String("name")
	if name == "" {
		name = filepath.Base(path)
	}

	out := c.App.Writer
	opts := []client.TransferOption{
		client.OnProgress(func(p client.Progress) {
			fmt.Fprintf(out, "\r%d/%d chunks (%d%%)", p.Uploaded, p.Total, p.Percent)
		}),
	}
	if id := c.String("session"); id != "" {
		opts = append(opts, client.WithSessionID(id))
	}
	tr := client.NewTransfer(newAPI(c), c.String("owner"), name, f, info.Size(), opts...)

	// Ctrl+C 取消上传并通知服务端
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		if _, ok := <-sigs; ok {
			tr.Cancel()
		}
	}()

	res, err := tr.Start(c.Context)
	fmt.Fprintln(out)
	if errors.Is(err, client.ErrCancelled) {
		tr.WaitCancelled()
		return cli.Exit(fmt.Sprintf("upload cancelled (session %s)", tr.SessionID()), 130)
	}
	if err != nil {
		if id := tr.SessionID(); id != "" {
			return fmt.Errorf("%w (resume with --session %s)", err, id)
		}
		return err
	}

	fmt.Fprintf(out, "session: %s\nfile id: %s\nurl:     %s\n", res.SessionID, res.FileID, res.FileURL)
	return nil
}

func statusAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: uploader status <session-id>", 2)
	}
	status, err := newAPI(c).Status(c.Context, c.Args().First(), c.String("owner"))
	if err != nil {
		return err
	}

	out := c.App.Writer
	fmt.Fprintf(out, "session: %s\nstatus:  %s\nchunks:  %d/%d (chunk size %d)\n",
		status.SessionID, status.Status, status.UploadedChunks, status.TotalChunks, status.ChunkSize)
	if status.FileID != "" {
		fmt.Fprintf(out, "file id: %s\nurl:     %s\n", status.FileID, status.FileURL)
	}
	return nil
}

func cancelAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: uploader cancel <session-id>", 2)
	}
	if err := newAPI(c).Cancel(c.Context, c.Args().First(), c.String("owner")); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "session %s cancelled\n", c.Args().First())
	return nil
}
