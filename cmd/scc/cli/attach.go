package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ccimen/scc/internal/log"
	"github.com/ccimen/scc/internal/runtime"
	"github.com/ccimen/scc/internal/term"
)

// doublePressWindow is how quickly Ctrl+C must be pressed twice to stop a
// sandbox from within an interactive attach.
const doublePressWindow = 500 * time.Millisecond

// attachInteractive is spec §4.9 step 8: it attaches the caller's terminal
// to the just-started sandbox container and returns once the attachment
// ends, reporting the container's exit code. It is passed into
// sandbox.Orchestrator.Launch as the attach callback so internal/sandbox
// never touches a terminal directly.
func attachInteractive(ctx context.Context, rt runtime.Runtime, containerID string) (int, error) {
	var rawState *term.RawModeState
	if term.IsTerminal(os.Stdin) {
		state, err := term.EnableRawMode(os.Stdin)
		if err != nil {
			log.Debug("failed to enable raw mode", "error", err)
		} else {
			rawState = state
			defer func() {
				if err := term.RestoreTerminal(rawState); err != nil {
					log.Debug("failed to restore terminal", "error", err)
				}
			}()
		}
	}

	escapeProxy := term.NewEscapeProxy(os.Stdin)

	width, height := term.GetSize(os.Stdout)

	attachCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	attachDone := make(chan error, 1)
	go func() {
		attachDone <- rt.Attach(attachCtx, containerID, runtime.AttachOptions{
			Stdin:         io.Reader(escapeProxy),
			Stdout:        os.Stdout,
			Stderr:        os.Stderr,
			TTY:           true,
			InitialWidth:  uint(width),
			InitialHeight: uint(height),
		})
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGWINCH)
	defer signal.Stop(sigCh)

	var lastSig time.Time

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGWINCH {
				if w, h := term.GetSize(os.Stdout); w > 0 && h > 0 {
					_ = rt.ResizeTTY(ctx, containerID, uint(h), uint(w))
				}
				continue
			}
			now := time.Now()
			if now.Sub(lastSig) < doublePressWindow {
				fmt.Println("\nstopping sandbox...")
				cancel()
				if err := rt.StopContainer(context.Background(), containerID); err != nil {
					log.Error("failed to stop sandbox", "container", containerID, "error", err)
				}
				return 130, nil
			}
			lastSig = now

		case err := <-attachDone:
			if err != nil && term.IsEscapeError(err) {
				switch term.GetEscapeAction(err) {
				case term.EscapeStop:
					cancel()
					if stopErr := rt.StopContainer(context.Background(), containerID); stopErr != nil {
						log.Error("failed to stop sandbox", "container", containerID, "error", stopErr)
					}
					return 130, nil
				case term.EscapeDetach:
					return 0, nil
				}
			}
			if err != nil {
				return 0, err
			}
			code, waitErr := rt.WaitContainer(context.Background(), containerID)
			if waitErr != nil {
				return 0, waitErr
			}
			return int(code), nil
		}
	}
}
