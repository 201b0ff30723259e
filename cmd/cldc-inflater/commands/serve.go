/*
   Copyright The Soci Snapshotter Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/awslabs/cldc-inflater/cmd/cldc-inflater/commands/global"
	"github.com/awslabs/cldc-inflater/config"
	"github.com/awslabs/cldc-inflater/metrics"
	"github.com/awslabs/cldc-inflater/resource"
	"github.com/awslabs/cldc-inflater/tracing"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/urfave/cli"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sys/unix"
)

const (
	addressKey     = "address"
	defaultAddress = "127.0.0.1:8642"
)

var ServeCommand = cli.Command{
	Name:  "serve",
	Usage: "serve decoded resources over HTTP",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  addressKey + ", a",
			Usage: "address to serve resources on",
			Value: defaultAddress,
		},
	},
	Action: func(cliContext *cli.Context) error {
		cfg, db, err := global.OpenCatalog(cliContext)
		if err != nil {
			return err
		}
		defer db.Close()
		ctx := log.WithLogger(context.Background(), log.L)
		return serve(ctx, cliContext.String(addressKey), resource.NewLoader(cfg, db), cfg)
	},
}

func serve(ctx context.Context, addr string, loader *resource.Loader, cfg *config.Config) error {
	errCh := make(chan error, 1)

	disabled, err := tracing.IsDisabled()
	if err != nil {
		return err
	}
	if !disabled {
		shutdown, err := tracing.Init(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.G(ctx).WithError(err).Warn("failed to flush traces")
			}
		}()
		log.G(ctx).Debug("tracing enabled")
	}

	var cleanupFns []func() error
	defer func() {
		for _, cleanupFn := range cleanupFns {
			cleanupFn()
		}
	}()

	// We need to consider both the existence of MetricsAddress as well as NoPrometheus flag not set
	if cfg.MetricsAddress != "" && !cfg.NoPrometheus {
		metrics.Register()
		var l net.Listener
		if cfg.MetricsNetwork == "unix" {
			l, err = listenUnix(cfg.MetricsAddress)
		} else {
			l, err = net.Listen(cfg.MetricsNetwork, cfg.MetricsAddress)
		}
		if err != nil {
			return fmt.Errorf("failed to get listener for metrics endpoint: %w", err)
		}
		cleanupFns = append(cleanupFns, l.Close)
		m := http.NewServeMux()
		m.Handle("/metrics", metrics.Handler())
		go func() {
			if err := http.Serve(l, m); err != nil {
				errCh <- fmt.Errorf("error on serving metrics via socket %q: %w", cfg.MetricsAddress, err)
			}
		}()
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("error on listen socket %q: %w", addr, err)
	}
	cleanupFns = append(cleanupFns, l.Close)
	srv := &http.Server{
		Handler:     otelhttp.NewHandler(newResourceHandler(loader), "cldc-inflater"),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("error on serving via socket %q: %w", addr, err)
		}
	}()

	log.G(ctx).WithField("address", l.Addr().String()).Info("cldc-inflater successfully started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	select {
	case s := <-sigCh:
		log.G(ctx).Infof("Got %v", s)
	case err := <-errCh:
		return err
	}
	return srv.Shutdown(ctx)
}

func listenUnix(addr string) (net.Listener, error) {
	// Prepare the directory for the socket
	if err := os.MkdirAll(filepath.Dir(addr), 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory %q: %w", filepath.Dir(addr), err)
	}

	// Try to remove the socket file to avoid EADDRINUSE
	if err := os.RemoveAll(addr); err != nil {
		return nil, fmt.Errorf("failed to remove %q: %w", addr, err)
	}
	return net.Listen("unix", addr)
}

// newResourceHandler serves GET /resources/<name>, streaming the decoded
// resource.
func newResourceHandler(loader *resource.Loader) http.Handler {
	m := http.NewServeMux()
	m.HandleFunc("GET /resources/{name...}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		name := r.PathValue("name")
		rc, err := loader.Open(ctx, name)
		if err != nil {
			http.Error(w, err.Error(), httpStatus(err))
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		if _, err := io.Copy(w, rc); err != nil {
			log.G(ctx).WithError(err).WithField("resource", name).Error("failed to stream resource")
			// Headers are gone; drop the connection so the client sees a
			// truncated body.
			panic(http.ErrAbortHandler)
		}
	})
	return m
}

func httpStatus(err error) int {
	switch {
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errdefs.IsNotImplemented(err):
		return http.StatusNotImplemented
	case errdefs.IsDataLoss(err):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
