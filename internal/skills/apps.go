package skills

import (
	"context"
	"fmt"
	log "log/slog"

	"lumen/internal/core"
	"lumen/internal/intent"
	"lumen/internal/memory"
)

var openTriggers = []string{"open", "launch", "start", "run", "bring up"}

func AppLauncher(l Launcher, cat *Catalog) intent.Capability {
	return intent.Capability{
		Name:        NameAppLauncher,
		Description: "Launch a desktop application from the catalog",
		Matchers: []intent.Matcher{
			intent.Alias("app", 1, openTriggers, cat.AppAliases()),
		},
		Execute: func(ctx context.Context, p core.Params, _ memory.View) (core.Reply, error) {
			app := p.Get("app")
			if app == "" {
				return core.Reply{}, core.NewActionError(core.KindExecutionFailed, "no app named", ErrUnknownTarget)
			}

			log.Debug("Launching app", "app", app)
			if err := l.Launch(ctx, app); err != nil {
				return core.Reply{}, fail(err, core.KindExecutionFailed, "launch "+app)
			}
			return core.Reply{Text: fmt.Sprintf("Opening %s.", app)}, nil
		},
		Apologies: map[core.Kind]string{
			core.KindExecutionFailed: "Sorry, I couldn't open that app.",
		},
	}
}

func OpenFolder(l Launcher, cat *Catalog) intent.Capability {
	return intent.Capability{
		Name:        NameOpenFolder,
		Description: "Open a well-known folder in the file manager",
		Matchers: []intent.Matcher{
			intent.Alias("folder", 1, append([]string{"show"}, openTriggers...), cat.FolderAliases()),
		},
		Execute: func(ctx context.Context, p core.Params, _ memory.View) (core.Reply, error) {
			name := p.Get("folder")
			path, ok := cat.FolderPath(name)
			if !ok {
				return core.Reply{}, core.NotFound("folder " + name)
			}

			log.Debug("Opening folder", "folder", name, "path", path)
			if err := l.Launch(ctx, path); err != nil {
				return core.Reply{}, fail(err, core.KindExecutionFailed, "open folder "+path)
			}
			return core.Reply{Text: fmt.Sprintf("Opening your %s folder.", name)}, nil
		},
		Apologies: map[core.Kind]string{
			core.KindNotFound:        "Sorry, I couldn't find that folder.",
			core.KindExecutionFailed: "Sorry, I couldn't open that folder.",
		},
	}
}
