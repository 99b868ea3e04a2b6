package raid

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rallyhouse/rally/pkg/models"
)

// CommandKind enumerates the chat-facing raid commands.
type CommandKind string

const (
	CmdCreate      CommandKind = "create"
	CmdJoin        CommandKind = "join"
	CmdStatus      CommandKind = "status"
	CmdLeaderboard CommandKind = "top"
	CmdAction      CommandKind = "done"
	CmdAbort       CommandKind = "abort"
	CmdHelp        CommandKind = "help"
)

// Command is a parsed raid-control message. Commands are room-scoped: they
// address the raid running in the room they were posted to.
type Command struct {
	Kind       CommandKind
	TargetRef  string
	Objectives []models.Objective
	Objective  models.ObjectiveType
	Target     string
	Limit      int

	durationMins int
}

// ErrNotCommand is returned by ParseCommand for text that does not carry
// the raid command prefix at all.
var ErrNotCommand = errors.New("not a raid command")

// defaultPoints is the per-action award used when a create command does not
// spell one out.
var defaultPoints = map[models.ObjectiveType]int{
	models.ObjectiveLike:   1,
	models.ObjectiveReply:  2,
	models.ObjectiveRepost: 3,
	models.ObjectiveQuote:  4,
	models.ObjectiveFollow: 5,
}

// IsCommand reports whether the text starts a raid-control command.
func IsCommand(text string) bool {
	t := strings.TrimSpace(strings.ToLower(text))
	return strings.HasPrefix(t, "!raid") || strings.HasPrefix(t, "/raid")
}

// ParseCommand parses raid-control chat text. Grammar:
//
//	!raid create <target> <objective>[:count[:points]]... [max=N] [mins=N]
//	!raid join
//	!raid status
//	!raid top [N]
//	!raid done <objective> [target]
//	!raid abort
func ParseCommand(text string) (Command, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || (!strings.EqualFold(fields[0], "!raid") && !strings.EqualFold(fields[0], "/raid")) {
		return Command{}, ErrNotCommand
	}
	if len(fields) == 1 {
		return Command{Kind: CmdHelp}, nil
	}

	verb := strings.ToLower(fields[1])
	args := fields[2:]
	switch verb {
	case "create", "start":
		return parseCreate(args)
	case "join":
		return Command{Kind: CmdJoin}, nil
	case "status":
		return Command{Kind: CmdStatus}, nil
	case "top", "leaderboard":
		cmd := Command{Kind: CmdLeaderboard, Limit: 10}
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return Command{}, fmt.Errorf("%w: top wants a positive number", ErrInvalidParams)
			}
			cmd.Limit = n
		}
		return cmd, nil
	case "done":
		if len(args) == 0 {
			return Command{}, fmt.Errorf("%w: done wants an objective (like, repost, reply, quote, follow)", ErrInvalidParams)
		}
		ot := models.ObjectiveType(strings.ToLower(args[0]))
		if !ot.Valid() {
			return Command{}, fmt.Errorf("%w: unknown objective %q", ErrInvalidParams, args[0])
		}
		cmd := Command{Kind: CmdAction, Objective: ot}
		if len(args) > 1 {
			cmd.Target = args[1]
		}
		return cmd, nil
	case "abort", "stop", "cancel":
		return Command{Kind: CmdAbort}, nil
	case "help":
		return Command{Kind: CmdHelp}, nil
	default:
		return Command{}, fmt.Errorf("%w: unknown raid command %q", ErrInvalidParams, verb)
	}
}

func parseCreate(args []string) (Command, error) {
	if len(args) == 0 {
		return Command{}, fmt.Errorf("%w: create wants a target", ErrInvalidParams)
	}
	cmd := Command{Kind: CmdCreate, TargetRef: args[0]}
	for _, arg := range args[1:] {
		lower := strings.ToLower(arg)
		switch {
		case strings.HasPrefix(lower, "max="):
			n, err := strconv.Atoi(lower[len("max="):])
			if err != nil || n <= 0 {
				return Command{}, fmt.Errorf("%w: max wants a positive number", ErrInvalidParams)
			}
			cmd.Limit = n
		case strings.HasPrefix(lower, "mins="):
			n, err := strconv.Atoi(lower[len("mins="):])
			if err != nil || n <= 0 {
				return Command{}, fmt.Errorf("%w: mins wants a positive number", ErrInvalidParams)
			}
			cmd.durationMins = n
		default:
			obj, err := parseObjective(lower)
			if err != nil {
				return Command{}, err
			}
			cmd.Objectives = append(cmd.Objectives, obj)
		}
	}
	if len(cmd.Objectives) == 0 {
		return Command{}, fmt.Errorf("%w: create wants at least one objective", ErrInvalidParams)
	}
	return cmd, nil
}

// parseObjective reads <objective>[:count[:points]].
func parseObjective(spec string) (models.Objective, error) {
	parts := strings.SplitN(spec, ":", 3)
	ot := models.ObjectiveType(parts[0])
	if !ot.Valid() {
		return models.Objective{}, fmt.Errorf("%w: unknown objective %q", ErrInvalidParams, parts[0])
	}
	obj := models.Objective{Type: ot, RequiredCount: 1, PointsPerAction: defaultPoints[ot]}
	if len(parts) > 1 {
		n, err := strconv.Atoi(parts[1])
		if err != nil || n <= 0 {
			return models.Objective{}, fmt.Errorf("%w: objective %q wants a positive count", ErrInvalidParams, parts[0])
		}
		obj.RequiredCount = n
	}
	if len(parts) > 2 {
		n, err := strconv.Atoi(parts[2])
		if err != nil || n < 0 {
			return models.Objective{}, fmt.Errorf("%w: objective %q wants non-negative points", ErrInvalidParams, parts[0])
		}
		obj.PointsPerAction = n
	}
	return obj, nil
}

// Execute runs a parsed command against the coordinator on behalf of the
// sender and returns the chat reply text. Service errors translate into
// user-facing phrasing here; anything unexpected propagates.
func (c *Coordinator) Execute(ctx context.Context, agentID, roomID string, from JoinParams, cmd Command) (string, error) {
	switch cmd.Kind {
	case CmdHelp:
		return helpText, nil

	case CmdCreate:
		p := CreateParams{
			AgentID:         agentID,
			RoomID:          roomID,
			TargetRef:       cmd.TargetRef,
			Objectives:      cmd.Objectives,
			MaxParticipants: cmd.Limit,
		}
		if cmd.durationMins > 0 {
			p.Duration = time.Duration(cmd.durationMins) * time.Minute
		}
		s, err := c.Create(ctx, p)
		if err != nil {
			if errors.Is(err, ErrInvalidParams) {
				return err.Error(), nil
			}
			return "", err
		}
		return fmt.Sprintf("Raid %s is forming against %s. Type !raid join to enlist.",
			s.Raid.RaidID, s.Raid.TargetRef), nil

	case CmdJoin:
		raidID, err := c.ForRoom(roomID)
		if err != nil {
			return "No raid is running in this room.", nil
		}
		if _, err := c.Join(ctx, raidID, from); err != nil {
			switch {
			case errors.Is(err, ErrAlreadyJoined):
				return "You are already in.", nil
			case errors.Is(err, ErrFull):
				return "The raid is full.", nil
			case errors.Is(err, ErrNotActive), errors.Is(err, ErrNotFound):
				return "No raid is open for joining right now.", nil
			case errors.Is(err, ErrIdentityMissing):
				return "I could not work out your platform identity.", nil
			}
			return "", err
		}
		return fmt.Sprintf("%s joined the raid.", displayOr(from)), nil

	case CmdStatus:
		raidID, err := c.ForRoom(roomID)
		if err != nil {
			return "No raid is running in this room.", nil
		}
		m, err := c.Metrics(ctx, raidID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return "No raid is running in this room.", nil
			}
			return "", err
		}
		return formatStatus(m), nil

	case CmdLeaderboard:
		raidID, err := c.ForRoom(roomID)
		if err != nil {
			return "No raid is running in this room.", nil
		}
		board, err := c.Leaderboard(ctx, raidID, cmd.Limit)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return "No raid is running in this room.", nil
			}
			return "", err
		}
		return formatLeaderboard(board), nil

	case CmdAction:
		raidID, err := c.ForRoom(roomID)
		if err != nil {
			return "No raid is running in this room.", nil
		}
		_, err = c.RecordAction(ctx, raidID, ActionParams{
			ParticipantID: from.ParticipantID,
			ObjectiveType: cmd.Objective,
			Target:        cmd.Target,
		})
		if err != nil {
			switch {
			case errors.Is(err, ErrIdentityMissing):
				return "Join the raid first: !raid join", nil
			case errors.Is(err, ErrUnknownObjective):
				return fmt.Sprintf("This raid has no %s objective.", cmd.Objective), nil
			case errors.Is(err, ErrNotActive), errors.Is(err, ErrNotFound):
				return "No raid is open right now.", nil
			}
			return "", err
		}
		return "Claim recorded. Points land once it verifies.", nil

	case CmdAbort:
		raidID, err := c.ForRoom(roomID)
		if err != nil {
			return "No raid is running in this room.", nil
		}
		if err := c.Abort(ctx, raidID, "aborted by "+displayOr(from)); err != nil {
			if errors.Is(err, ErrNotActive) || errors.Is(err, ErrNotFound) {
				return "No raid is open right now.", nil
			}
			return "", err
		}
		return "Raid aborted.", nil
	}
	return "", fmt.Errorf("%w: unhandled command %q", ErrInvalidParams, cmd.Kind)
}

const helpText = "Raid commands: !raid create <target> <objective>[:count[:points]]... " +
	"[max=N] [mins=N] | !raid join | !raid done <objective> | !raid status | " +
	"!raid top [N] | !raid abort"

func displayOr(p JoinParams) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ParticipantID
}

func formatStatus(m Metrics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Raid %s is %s", m.RaidID, m.Status)
	if m.Status == models.RaidActive {
		fmt.Fprintf(&b, " with %d raider(s), %.0f%% complete, %s left",
			m.Participants, m.CompletionRatio*100, m.TimeRemaining.Round(time.Second))
	}
	types := make([]models.ObjectiveType, 0, len(m.Counts))
	for t := range m.Counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		fmt.Fprintf(&b, " | %s: %d verified (%d pts)", t, m.Counts[t], m.Totals[t])
	}
	return b.String()
}

func formatLeaderboard(board []*models.Participant) string {
	if len(board) == 0 {
		return "Nobody has joined yet."
	}
	var b strings.Builder
	b.WriteString("Leaderboard:")
	for i, p := range board {
		name := p.DisplayName
		if name == "" {
			name = p.ParticipantID
		}
		fmt.Fprintf(&b, " %d. %s %dpts", i+1, name, p.PointsEarned)
	}
	return b.String()
}
