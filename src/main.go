package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/jinjor/desktop-synth/src/audio"
	"github.com/jinjor/desktop-synth/src/config"
	"github.com/jinjor/desktop-synth/src/logger"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	scorePath := flag.String("render", "", "render a YAML score offline instead of playing live")
	outPath := flag.String("out", "out.wav", "WAV file written by -render")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *scorePath != "" {
		err = renderScore(cfg, *scorePath, *outPath)
	} else {
		err = run(cfg)
	}
	if err != nil {
		logger.L.Errorf("error: %v", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.L.Info("main() ended.")
}

func renderScore(cfg *config.Config, scorePath string, outPath string) error {
	score, err := audio.LoadScore(scorePath)
	if err != nil {
		return err
	}
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	if err := audio.RenderScore(score, cfg, f); err != nil {
		f.Close()
		return err
	}
	logger.L.Infof("wrote %s", outPath)
	return f.Close()
}

func run(cfg *config.Config) error {
	logger.L.Infof("NumCPU: %v", runtime.NumCPU())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := audio.NewAudio(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.L.Warnf("error while closing audio: %v", err)
		}
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(signalCh)
		cancel()
	}()
	go func() {
		sig := <-signalCh
		logger.L.Infof("Caught signal %s: shutting down...", sig)
		cancel()
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Start(ctx)
	})
	if cfg.MIDI.Enabled {
		g.Go(func() error {
			return forwardMidi(ctx, audio.ListenToMidiIn(ctx, cfg.MIDI.Port), a)
		})
	}
	g.Go(func() error {
		return withIPCConnection(ctx, cfg.IPC.Socket, func(conn net.Conn) error {
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return receiveCommands(ctx, conn, a.CommandCh)
			})
			g.Go(func() error {
				return sendReports(ctx, conn, a)
			})
			if err := g.Wait(); !errors.Is(err, errClientGone) {
				return err
			}
			return nil
		})
	})
	return g.Wait()
}

func forwardMidi(ctx context.Context, ch <-chan []byte, a *audio.Audio) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				logger.L.Info("MIDI IN closed")
				return nil
			}
			a.AddMidiEvent(data)
		}
	}
}

func withIPCConnection(ctx context.Context, sockFileName string, f func(net.Conn) error) error {
	os.Remove(sockFileName)
	listener, err := new(net.ListenConfig).Listen(ctx, "unix", sockFileName)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	defer func() {
		logger.L.Info("Closing IPC...")
		os.Remove(sockFileName)
	}()
	logger.L.Infof("start listening on %s...", sockFileName)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func() {
			<-ctx.Done()
			conn.Close()
		}()
		err = f(conn)
		if err := conn.Close(); err != nil && ctx.Err() == nil {
			logger.L.Debugf("error while closing connection: %v", err)
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		logger.L.Info("IPC client disconnected, waiting for the next one...")
	}
}

// receiveCommands returns errClientGone when the client disconnects so that
// the reports sent to it stop as well.
func receiveCommands(ctx context.Context, conn net.Conn, commandCh chan<- []string) error {
	reader := bufio.NewReader(conn)
	var line []byte
loop:
	for {
		select {
		case <-ctx.Done():
			logger.L.Info("Connection interrupted")
			break loop
		default:
		}
		next, isPrefix, err := reader.ReadLine()
		if err == io.EOF || ctx.Err() != nil {
			break loop
		}
		if err != nil {
			return err
		}
		line = append(line, next...)
		if isPrefix {
			continue
		}
		command, err := audio.ParseCommand(string(line))
		line = line[:0]
		if err != nil {
			logger.L.Warnf("invalid command: %v", err)
			continue
		}
		if len(command) == 0 {
			continue
		}
		logger.L.Debugf("received: %v", command)
		commandCh <- command
	}
	logger.L.Info("receiveCommands() ended.")
	return errClientGone
}

var errClientGone = errors.New("client disconnected")

func sendReports(ctx context.Context, conn net.Conn, a *audio.Audio) error {
	t := time.NewTicker(time.Second / 60)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.L.Debug("sendReports() interrupted")
			return nil
		case <-t.C:
			voices, peak := a.Stats()
			s := "voices " + strconv.Itoa(voices) + " peak " + strconv.FormatFloat(peak, 'f', 6, 64)
			if _, err := conn.Write([]byte(s + "\n")); err != nil {
				return nil
			}
		}
	}
}
