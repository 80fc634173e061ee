package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/flo-redis/gokv-resp/internal/server"
)

func main() {
	var cfg server.Config
	var port int
	flag.StringVar(&cfg.Dir, "dir", "/tmp", "directory holding the snapshot file")
	flag.StringVar(&cfg.DBFilename, "dbfilename", "dump.rdb", "snapshot file name")
	flag.IntVar(&port, "port", 6379, "TCP port to listen on")
	flag.Parse()
	cfg.Port = uint16(port)

	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	log := zap.Must(logConfig.Build())
	defer log.Sync()
	log = log.Named("gokv-resp")

	srv := server.New(cfg, log)
	if err := srv.LoadSnapshot(); err != nil {
		log.Fatal("snapshot load failed", zap.Error(err))
	}

	loop := server.NewEventLoop(srv)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		loop.Close()
		os.Exit(0)
	}()

	if err := loop.Run(); err != nil {
		log.Fatal("event loop exited", zap.Error(err))
	}
}
