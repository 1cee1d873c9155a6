package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/gkatanacio/rangestream/accounting"
	"github.com/gkatanacio/rangestream/server"
	"github.com/gkatanacio/rangestream/stream"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Serve the files of a directory with range, throttling and auth support.",
	Example: "rangestream serve --root ./public --addr :8080 --resumable --speed-limit 512 --counter-file downloads.count",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", ":8080", "address to listen on")
	f.String("root", ".", "directory to serve")
	f.Bool("resumable", true, "honor Range requests")
	f.Int("speed-limit", 0, "per-transfer speed limit in KB/s (0 = unlimited)")
	f.Int("chunk-size", stream.DefaultChunkSize, "bytes written per chunk when unthrottled")
	f.Bool("sniff", false, "detect the content type from file contents when the extension is unknown")
	f.String("auth-user", "", "require basic auth with this username")
	f.String("auth-password", "", "password for --auth-user")
	f.String("auth-bcrypt-hash", "", "bcrypt hash of the password for --auth-user")
	f.String("counter-file", "", "sidecar file holding the cumulative bytes sent")
	f.String("ledger-db", "", "SQLite database recording bytes per file")
	f.Int64("max-transfers", 0, "maximum concurrent transfers (0 = unlimited)")
	f.Duration("write-timeout", 30*time.Second, "write timeout outside of streaming")

	viper.BindPFlags(f)
	rootCmd.AddCommand(serveCmd)
}

func verifierFromConfig() (stream.Verifier, error) {
	user := viper.GetString("auth-user")
	if user == "" {
		return nil, nil
	}

	if hash := viper.GetString("auth-bcrypt-hash"); hash != "" {
		return stream.BcryptVerifier{Username: user, Hash: []byte(hash)}, nil
	}

	password := viper.GetString("auth-password")
	if password == "" {
		return nil, errors.New("--auth-user requires --auth-password or --auth-bcrypt-hash")
	}

	return stream.StaticCredentials(user, password), nil
}

func runServe(ctx context.Context) error {
	verifier, err := verifierFromConfig()
	if err != nil {
		return err
	}

	opts := server.Options{
		Root: osfs.New(viper.GetString("root"), osfs.WithBoundOS()),
		Transfer: stream.Options{
			Resumable:        viper.GetBool("resumable"),
			SpeedLimitKBps:   viper.GetInt("speed-limit"),
			ChunkSize:        viper.GetInt("chunk-size"),
			SniffContentType: viper.GetBool("sniff"),
			WriteTimeout:     viper.GetDuration("write-timeout"),
		},
		Verifier:     verifier,
		MaxTransfers: viper.GetInt64("max-transfers"),
	}

	if path := viper.GetString("counter-file"); path != "" {
		opts.Counter = accounting.NewCounterFile(path)
	}
	if path := viper.GetString("ledger-db"); path != "" {
		ledger, err := accounting.OpenSQLiteLedger(path)
		if err != nil {
			return err
		}
		defer ledger.Close()
		opts.Ledger = ledger
	}

	srv := &http.Server{
		Addr:              viper.GetString("addr"),
		Handler:           server.NewServer(opts),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      opts.Transfer.WriteTimeout,
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		logrus.WithFields(logrus.Fields{
			"function":  "runServe",
			"addr":      srv.Addr,
			"root":      viper.GetString("root"),
			"resumable": opts.Transfer.Resumable,
			"auth":      verifier != nil,
		}).Info("Serving downloads")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		logrus.WithField("function", "runServe").Info("Shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
