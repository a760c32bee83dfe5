package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sauhard74/voice-interaction-plat/internal/archive"
	"github.com/Sauhard74/voice-interaction-plat/internal/capture"
	"github.com/Sauhard74/voice-interaction-plat/internal/config"
	"github.com/Sauhard74/voice-interaction-plat/internal/playback"
	"github.com/Sauhard74/voice-interaction-plat/internal/session"
	"github.com/Sauhard74/voice-interaction-plat/internal/transcript"
	"github.com/Sauhard74/voice-interaction-plat/internal/transport"
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Turn-based voice conversation",
	Long: `Start a turn-based conversation: press Enter to open the microphone,
Enter again to send the turn, then listen to the agent's reply.

Keys:
  Enter - start recording / send the turn
  m     - mute or unmute while recording
  q     - hang up and exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCall(session.ModeTurnBased)
	},
}

func init() {
	rootCmd.AddCommand(callCmd)
}

func runCall(mode session.Mode) error {
	cfg := config.Load()

	client := transport.NewClient(cfg.APIBaseURL, cfg.SendTimeout)
	client.AgentID = cfg.AgentID

	sessCfg := session.Config{
		Mode:            mode,
		Turn:            client,
		Capture:         capture.NewEngine(&capture.MicSource{}),
		Player:          playback.NewHTTPPlayer(),
		SendTimeout:     cfg.SendTimeout,
		ResolveAudioURL: cfg.ResolveAudioURL,
	}
	if mode == session.ModeStreaming {
		sessCfg.DialStream = func(ctx context.Context, conversationID string) (session.StreamTransport, error) {
			return transport.DialSocket(ctx, cfg.WSEndpoint, conversationID)
		}
		sessCfg.RedialOnDrop = true
	}
	if cfg.ArchiveEnabled() {
		store, err := archive.New(archive.Config{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceKey,
			Bucket:         cfg.SupabaseBucket,
		})
		if err != nil {
			log.Printf("Warning: archival disabled: %v", err)
		} else {
			sessCfg.Archiver = store
		}
	}

	ended := make(chan struct{}, 1)
	s := session.New(sessCfg, session.Callbacks{
		OnState: func(st session.State) {
			log.Printf("state: %s", st)
			if st.Terminal() {
				select {
				case ended <- struct{}{}:
				default:
				}
			}
		},
		OnTranscript: printLatest,
		OnNotice: func(n session.Notice) {
			if n.Fatal {
				log.Printf("fatal %s error: %v", n.Kind, n.Err)
				return
			}
			log.Printf("%s error, conversation still open: %v", n.Kind, n.Err)
		},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("failed to start conversation: %w", err)
	}
	fmt.Printf("Conversation %s started.\n", s.ConversationID())
	fmt.Println("Press Enter to talk, Enter again to send, 'm' to mute, 'q' to quit.")

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return hangUp(s)
		case <-ended:
			if s.State() == session.StateFailed {
				return s.FailReason()
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return hangUp(s)
			}
			if err := handleKey(s, line); err != nil {
				if errors.Is(err, errQuit) {
					return hangUp(s)
				}
				log.Printf("%v", err)
			}
		}
	}
}

var errQuit = errors.New("quit")

func handleKey(s *session.Session, line string) error {
	switch line {
	case "q":
		return errQuit
	case "m":
		return s.ToggleMute()
	case "":
		switch s.State() {
		case session.StateCapturing, session.StateMuted:
			return s.EndTurn()
		default:
			return s.BeginTurn()
		}
	default:
		return fmt.Errorf("unknown key %q", line)
	}
}

func hangUp(s *session.Session) error {
	if err := s.HangUp(); err != nil && !errors.Is(err, session.ErrSessionClosed) {
		return err
	}
	return nil
}

func printLatest(entries []transcript.Entry) {
	if len(entries) == 0 {
		return
	}
	e := entries[len(entries)-1]
	suffix := ""
	if e.Pending {
		suffix = " ..."
	}
	fmt.Printf("  [%s] %s%s\n", e.Speaker, e.Text, suffix)
}
