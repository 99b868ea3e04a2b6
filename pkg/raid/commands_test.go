package raid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rallyhouse/rally/pkg/models"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Command
		err  error
	}{
		{
			name: "not a command",
			text: "gm everyone",
			err:  ErrNotCommand,
		},
		{
			name: "bare prefix is help",
			text: "!raid",
			want: Command{Kind: CmdHelp},
		},
		{
			name: "create with objective shorthand",
			text: "!raid create https://x.com/rally/status/42 like:50 repost:20:5 max=100 mins=30",
			want: Command{
				Kind:      CmdCreate,
				TargetRef: "https://x.com/rally/status/42",
				Objectives: []models.Objective{
					{Type: models.ObjectiveLike, RequiredCount: 50, PointsPerAction: 1},
					{Type: models.ObjectiveRepost, RequiredCount: 20, PointsPerAction: 5},
				},
				Limit:        100,
				durationMins: 30,
			},
		},
		{
			name: "create defaults count and points",
			text: "/raid create @rallyhouse follow",
			want: Command{
				Kind:      CmdCreate,
				TargetRef: "@rallyhouse",
				Objectives: []models.Objective{
					{Type: models.ObjectiveFollow, RequiredCount: 1, PointsPerAction: 5},
				},
			},
		},
		{
			name: "create without objectives",
			text: "!raid create https://x.com/rally/status/42",
			err:  ErrInvalidParams,
		},
		{
			name: "create with unknown objective",
			text: "!raid create target hug:5",
			err:  ErrInvalidParams,
		},
		{
			name: "join",
			text: "!raid join",
			want: Command{Kind: CmdJoin},
		},
		{
			name: "status",
			text: "  !raid status  ",
			want: Command{Kind: CmdStatus},
		},
		{
			name: "top default limit",
			text: "!raid top",
			want: Command{Kind: CmdLeaderboard, Limit: 10},
		},
		{
			name: "leaderboard alias with limit",
			text: "!raid leaderboard 5",
			want: Command{Kind: CmdLeaderboard, Limit: 5},
		},
		{
			name: "done with target",
			text: "!raid done repost https://x.com/rally/status/43",
			want: Command{Kind: CmdAction, Objective: models.ObjectiveRepost,
				Target: "https://x.com/rally/status/43"},
		},
		{
			name: "done without objective",
			text: "!raid done",
			err:  ErrInvalidParams,
		},
		{
			name: "abort alias",
			text: "!raid cancel",
			want: Command{Kind: CmdAbort},
		},
		{
			name: "unknown verb",
			text: "!raid dance",
			err:  ErrInvalidParams,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.text)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsCommand(t *testing.T) {
	assert.True(t, IsCommand("!raid join"))
	assert.True(t, IsCommand("/RAID status"))
	assert.False(t, IsCommand("raid the fridge"))
	assert.False(t, IsCommand(""))
}

func TestExecuteRaidFlow(t *testing.T) {
	h := newHarness(t, &countingVerifier{verdict: Verdict{Status: VerdictVerified}}, nil)
	ctx := context.Background()
	exec := func(from JoinParams, text string) string {
		t.Helper()
		cmd, err := ParseCommand(text)
		require.NoError(t, err)
		reply, err := h.coord.Execute(ctx, "agent-1", "room-9", from, cmd)
		require.NoError(t, err)
		return reply
	}

	assert.Equal(t, "No raid is running in this room.", exec(joiner("1"), "!raid join"))

	reply := exec(joiner("1"), "!raid create https://x.com/rally/status/42 like:1")
	assert.Contains(t, reply, "is forming")

	assert.Contains(t, exec(joiner("1"), "!raid join"), "joined the raid")
	assert.Equal(t, "You are already in.", exec(joiner("1"), "!raid join"))

	assert.Equal(t, "Join the raid first: !raid join", exec(joiner("2"), "!raid done like"))
	assert.Contains(t, exec(joiner("1"), "!raid done like"), "Claim recorded")

	assert.Contains(t, exec(joiner("1"), "!raid status"), "Raid raid-")
	assert.Contains(t, exec(joiner("1"), "!raid top"), "Leaderboard:")
}

func TestExecuteAbort(t *testing.T) {
	h := newHarness(t, &countingVerifier{}, nil)
	ctx := context.Background()

	cmd, err := ParseCommand("!raid create @rallyhouse follow")
	require.NoError(t, err)
	_, err = h.coord.Execute(ctx, "agent-1", "room-2", joiner("1"), cmd)
	require.NoError(t, err)

	cmd, err = ParseCommand("!raid join")
	require.NoError(t, err)
	_, err = h.coord.Execute(ctx, "agent-1", "room-2", joiner("1"), cmd)
	require.NoError(t, err)

	cmd, err = ParseCommand("!raid abort")
	require.NoError(t, err)
	reply, err := h.coord.Execute(ctx, "agent-1", "room-2", joiner("1"), cmd)
	require.NoError(t, err)
	assert.Equal(t, "Raid aborted.", reply)

	raidID, err := h.coord.ForRoom("room-2")
	require.NoError(t, err)
	r, err := h.coord.Get(ctx, raidID)
	require.NoError(t, err)
	assert.Equal(t, models.RaidAborted, r.Status)
}
