package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/edgeo-scada/mbscript"
	"github.com/edgeo-scada/mbscript/modbus"
)

var (
	serveListen   string
	serveMaxConns int
	serveUnitID   uint8
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve local device memory over Modbus TCP",
	Long: `Open the head's local device memory and expose it as a Modbus TCP server,
so scripts sharing the same project and memid in this process and remote
masters see the same memory.`,
	Example: `  mbscript serve -i sim --listen :5020
  mbscript serve -prj plant.yaml -i tank --listen 127.0.0.1:1502 --unit 1`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", ":502", "Listen address")
	serveCmd.Flags().IntVar(&serveMaxConns, "max-conns", 100, "Maximum client connections")
	serveCmd.Flags().Uint8VarP(&serveUnitID, "unit", "u", 0, "Answer only this unit ID (0 = any)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := openHead(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	local, ok := h.Device.(*mbscript.LocalDevice)
	if !ok {
		return fmt.Errorf("%w: serve needs a local device, memid %q is remote", mbscript.ErrInvalidDevice, h.Params.MemID)
	}

	listener, err := net.Listen("tcp", serveListen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	outputSuccess(cmd.OutOrStdout(), "serving memid %q on %s", local.ID(), listener.Addr())

	opts := []modbus.ServerOption{
		modbus.WithServerLogger(logger),
		modbus.WithMaxConnections(serveMaxConns),
	}
	if serveUnitID != 0 {
		opts = append(opts, modbus.WithServerUnitID(modbus.UnitID(serveUnitID)))
	}
	return serveMemory(ctx, local.Memory(), listener, opts...)
}

// serveMemory serves mem on listener until ctx is done.
func serveMemory(ctx context.Context, mem *modbus.DeviceMemory, listener net.Listener, opts ...modbus.ServerOption) error {
	srv := modbus.NewServer(mem, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(listener)
	})
	g.Go(func() error {
		<-gctx.Done()
		return srv.Close()
	})

	err := g.Wait()
	m := srv.Metrics()
	logger.Info("serve stopped",
		slog.Int64("connections", m.TotalConns.Value()),
		slog.Int64("requests", m.RequestsTotal.Value()),
		slog.Int64("exceptions", m.Exceptions.Value()))
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
