package gameserver

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/waystonemud/waystone/internal/game/npc"
	"github.com/waystonemud/waystone/internal/game/session"
)

// Console is a local line-oriented interface to the combat engine, meant
// for development and for running the engine without a network frontend.
// It drives one player session and prints that session's event stream.
type Console struct {
	handler  *CombatHandler
	sessions *session.Manager
	npcs     *npc.Manager
	logger   *zap.Logger
	uid      string
	roomID   string

	in  io.Reader
	out io.Writer

	done      chan struct{}
	closeOnce sync.Once
}

// NewConsole creates a Console bound to an existing player session.
//
// Precondition: uid must already be registered with the session manager;
// handler, sessions, npcs, and logger must be non-nil.
func NewConsole(
	handler *CombatHandler,
	sessions *session.Manager,
	npcs *npc.Manager,
	logger *zap.Logger,
	uid, roomID string,
	in io.Reader,
	out io.Writer,
) *Console {
	return &Console{
		handler:  handler,
		sessions: sessions,
		npcs:     npcs,
		logger:   logger,
		uid:      uid,
		roomID:   roomID,
		in:       in,
		out:      out,
		done:     make(chan struct{}),
	}
}

// Start pumps the session's event stream to the output and reads commands
// from the input until EOF, "quit", or Stop.
func (c *Console) Start() error {
	sess, ok := c.sessions.GetPlayer(c.uid)
	if !ok {
		return fmt.Errorf("console session %q not registered", c.uid)
	}

	go func() {
		for {
			select {
			case <-c.done:
				return
			case ev, open := <-sess.Entity.Events():
				if !open {
					return
				}
				fmt.Fprintf(c.out, "%s", ev)
			}
		}
	}()

	fmt.Fprintf(c.out, "Waystone console. Commands: attack <target>, skill <name> <target>, defend, flee, status, spawn <template>, quit.\n> ")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-c.done:
			return nil
		case line, open := <-lines:
			if !open {
				return nil
			}
			if quit := c.dispatch(strings.TrimSpace(line)); quit {
				return nil
			}
			fmt.Fprint(c.out, "> ")
		}
	}
}

// Stop unblocks Start.
func (c *Console) Stop() {
	c.closeOnce.Do(func() { close(c.done) })
}

// dispatch runs one command line. Returns true when the console should exit.
func (c *Console) dispatch(line string) bool {
	if line == "" {
		return false
	}
	fields := strings.Fields(line)
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	var msg string
	var err error
	switch cmd {
	case "quit", "exit":
		return true
	case "attack", "kill":
		if len(args) != 1 {
			msg = "Usage: attack <target>"
			break
		}
		msg, err = c.handler.Attack(c.uid, args[0])
	case "skill":
		if len(args) != 2 {
			msg = "Usage: skill <name> <target>"
			break
		}
		msg, err = c.handler.UseSkill(c.uid, args[0], args[1])
	case "defend":
		msg, err = c.handler.Defend(c.uid)
	case "flee":
		msg, err = c.handler.Flee(c.uid)
	case "status":
		msg, err = c.handler.Status(c.uid)
	case "spawn":
		if len(args) != 1 {
			msg = "Usage: spawn <template>"
			break
		}
		inst, spawnErr := c.npcs.SpawnByTemplateID(args[0], c.roomID)
		if spawnErr != nil {
			err = spawnErr
			break
		}
		msg = fmt.Sprintf("%s appears.", inst.Name)
	default:
		msg = fmt.Sprintf("Unknown command %q.", cmd)
	}

	if err != nil {
		fmt.Fprintf(c.out, "%s\n", err)
		return false
	}
	if msg != "" {
		fmt.Fprintf(c.out, "%s\n", msg)
	}
	return false
}
