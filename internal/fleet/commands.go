package fleet

import (
	"context"
	"fmt"
	"strconv"
)

// commandBuilder validates arguments and binds a command to a player.
type commandBuilder func(m *Model, p *Player, args []string) (func(ctx context.Context) error, error)

// commandTable names every externally invocable command.
var commandTable = map[string]commandBuilder{
	"volume": func(m *Model, p *Player, args []string) (func(context.Context) error, error) {
		level, err := intArg(args, 0)
		if err != nil {
			return nil, err
		}
		if level < 0 || level > 100 {
			return nil, fmt.Errorf("volume %d out of range", level)
		}
		uuid := p.UUID
		return func(ctx context.Context) error { return m.opSetVolume(ctx, uuid, level) }, nil
	},
	"mute": func(m *Model, p *Player, args []string) (func(context.Context) error, error) {
		mute, err := boolArg(args, 0)
		if err != nil {
			return nil, err
		}
		uuid := p.UUID
		return func(ctx context.Context) error { return m.opSetMute(ctx, uuid, mute) }, nil
	},
	"play": func(m *Model, p *Player, _ []string) (func(context.Context) error, error) {
		uuid := p.UUID
		return func(ctx context.Context) error { return m.opPlay(ctx, uuid) }, nil
	},
	"pause": func(m *Model, p *Player, _ []string) (func(context.Context) error, error) {
		uuid := p.UUID
		return func(ctx context.Context) error { return m.opPause(ctx, uuid) }, nil
	},
	"playMode": func(m *Model, p *Player, args []string) (func(context.Context) error, error) {
		mode, err := stringArg(args, 0)
		if err != nil {
			return nil, err
		}
		uuid := p.UUID
		return func(ctx context.Context) error { return m.opSetPlayMode(ctx, uuid, mode) }, nil
	},
	"joinGroup": func(m *Model, p *Player, args []string) (func(context.Context) error, error) {
		leader, err := stringArg(args, 0)
		if err != nil {
			return nil, err
		}
		uuid := p.UUID
		return func(ctx context.Context) error { return m.opJoinGroup(ctx, uuid, leader) }, nil
	},
	"startOwnGroup": func(m *Model, p *Player, _ []string) (func(context.Context) error, error) {
		uuid := p.UUID
		return func(ctx context.Context) error { return m.opStartOwnGroup(ctx, uuid) }, nil
	},
	"playRadio": func(m *Model, p *Player, args []string) (func(context.Context) error, error) {
		url, err := stringArg(args, 0)
		if err != nil {
			return nil, err
		}
		uuid := p.UUID
		return func(ctx context.Context) error { return m.opPlayRadio(ctx, uuid, url) }, nil
	},
	"playStream": func(m *Model, p *Player, args []string) (func(context.Context) error, error) {
		url, err := stringArg(args, 0)
		if err != nil {
			return nil, err
		}
		uuid := p.UUID
		return func(ctx context.Context) error { return m.opPlayStream(ctx, uuid, url) }, nil
	},
	"playQueue": func(m *Model, p *Player, args []string) (func(context.Context) error, error) {
		// An optional leading boolean asks for repeat; track URLs never
		// parse as one.
		repeat := false
		if len(args) > 0 {
			if b, err := strconv.ParseBool(args[0]); err == nil {
				repeat = b
				args = args[1:]
			}
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("playQueue needs at least one track url")
		}
		urls := append([]string(nil), args...)
		uuid := p.UUID
		return func(ctx context.Context) error { return m.opPlayQueue(ctx, uuid, urls, repeat) }, nil
	},
	"playNotification": func(m *Model, p *Player, args []string) (func(context.Context) error, error) {
		url, err := stringArg(args, 0)
		if err != nil {
			return nil, err
		}
		uuid := p.UUID
		return func(ctx context.Context) error { return m.opPlayNotification(ctx, uuid, url) }, nil
	},
	"getQueue": func(m *Model, p *Player, _ []string) (func(context.Context) error, error) {
		return m.queueFetchTask(p.UUID), nil
	},
	"update": func(m *Model, p *Player, _ []string) (func(context.Context) error, error) {
		return m.refreshTask(p.UUID), nil
	},
}

// CommandNames lists the supported commands, for diagnostics.
func CommandNames() []string {
	names := make([]string, 0, len(commandTable))
	for name := range commandTable {
		names = append(names, name)
	}
	return names
}

func stringArg(args []string, i int) (string, error) {
	if i >= len(args) || args[i] == "" {
		return "", fmt.Errorf("missing argument %d", i)
	}
	return args[i], nil
}

func intArg(args []string, i int) (int, error) {
	s, err := stringArg(args, i)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("argument %d: %w", i, err)
	}
	return n, nil
}

func boolArg(args []string, i int) (bool, error) {
	s, err := stringArg(args, i)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("argument %d: %w", i, err)
	}
	return b, nil
}
