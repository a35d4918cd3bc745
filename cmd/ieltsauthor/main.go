/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"ieltsauthor/internal/authoring"
	"ieltsauthor/internal/backend"
	"ieltsauthor/internal/config"
	"ieltsauthor/internal/crash"
	"ieltsauthor/internal/domain"
	"ieltsauthor/internal/export"
	applog "ieltsauthor/internal/log"
	"ieltsauthor/internal/preview"
	"ieltsauthor/internal/storage"
	"ieltsauthor/internal/submit"
	"ieltsauthor/internal/telemetry"
	"ieltsauthor/internal/ui"
	"ieltsauthor/internal/upload"
	"ieltsauthor/internal/vector"
	"ieltsauthor/internal/version"
)

func usage() {
	fmt.Println("IELTS Author")
	fmt.Printf("Version: %s\n", version.String())
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  ieltsauthor version                                  Show version")
	fmt.Println("  ieltsauthor init <dir> <id> <title> [kind]            Create a new module at <dir>")
	fmt.Println("  ieltsauthor open <dir>                                Print parts, groups and load warnings")
	fmt.Println("  ieltsauthor validate <dir>                            Run whole-test submission checks")
	fmt.Println("  ieltsauthor preview <dir> <part> <group> <img> <out.png> [width]")
	fmt.Println("                                                        Render a flow-chart overlay to PNG")
	fmt.Println("  ieltsauthor set-image <dir> <part> <group> <img>      Upload a new image for a flow-chart group")
	fmt.Println("  ieltsauthor set-part <dir> <part> <aspect> <value>     Set title, instructions or audio (file or URL)")
	fmt.Println("  ieltsauthor export-pdf <dir> <out.pdf> [part...]      Write the answer key")
	fmt.Println("  ieltsauthor index <dir> check|rebuild                 Maintain the question index")
	fmt.Println("  ieltsauthor index <dir> search <text>|group <id>|where-used <url>")
	fmt.Println("  ieltsauthor push <dir> | pull <dir> <part>            Sync parts with the backend")
	fmt.Println("  ieltsauthor serve                                     Run the persistence backend (Postgres)")
	fmt.Println("  ieltsauthor ui <dir> <part> <group> <img>             Preview window (build with -tags fyne)")
}

func main() {
	// a missing .env is fine
	_ = godotenv.Load()
	cfg, tokens, cfgErr := config.Load()
	applog.Init(applog.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, AddSource: cfg.Logging.Source, File: cfg.Logging.File})
	l := applog.WithComponent("cli")
	if cfgErr != nil {
		l.Warn("config not loaded, using defaults", slog.Any("err", cfgErr))
	}
	tcfg := telemetry.FromEnv()
	tcfg.OptIn = tcfg.OptIn || cfg.General.TelemetryOptIn
	telemetry.NewDefault(tcfg)

	var mh *storage.ModuleHandle
	defer func() { crash.Recover(mh) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args
	l.Debug("start", slog.Int("args", len(args)))
	if len(args) < 2 {
		usage()
		return
	}
	need := func(n int, what string) {
		if len(args) < n {
			fmt.Println(args[1], "requires", what)
			usage()
			os.Exit(2)
		}
	}
	open := func(dir string) *storage.ModuleHandle {
		abs, _ := filepath.Abs(dir)
		h, err := storage.Open(abs)
		if err != nil {
			fail(l, "open failed", err)
		}
		mh = h
		return h
	}

	switch args[1] {
	case "version", "--version", "-v":
		fmt.Println("IELTS Author", version.String())
	case "init":
		need(5, "<dir> <id> <title>")
		abs, _ := filepath.Abs(args[2])
		m := domain.TestModule{ID: args[3], Title: args[4], Parts: []domain.Part{}}
		if len(args) > 5 {
			m.Kind = args[5]
		}
		l.Info("init module", slog.String("root", abs), slog.String("id", m.ID))
		h, err := storage.InitModule(abs, m)
		if err != nil {
			fail(l, "init failed", err)
		}
		mh = h
		fmt.Println("Created module at", abs)
	case "open":
		need(3, "<dir>")
		h := open(args[2])
		fmt.Printf("Module: %s (%s)\n", h.Module.Title, h.Module.ID)
		store := storage.NewFileStore(h)
		for _, p := range h.Module.Parts {
			ws, err := authoring.Open(ctx, workspaceOptions(h, store, cfg), p.Number)
			if err != nil {
				fail(l, "open part failed", err)
			}
			fmt.Printf("Part %d: %d questions\n", p.Number, len(p.Questions))
			for _, g := range ws.Groups() {
				fmt.Printf("  %-10s %s start=%d questions=%v\n", g.Group.Kind, g.Group.ID, g.Group.StartQuestionNumber, g.Numbers)
			}
			for _, w := range ws.Warnings() {
				fmt.Println("  warning:", w)
			}
		}
	case "validate":
		need(3, "<dir>")
		h := open(args[2])
		if err := submit.Validate(h.Module); err != nil {
			fmt.Println("Invalid:", err)
			os.Exit(1)
		}
		fmt.Println("Module is ready for submission.")
	case "preview":
		need(7, "<dir> <part> <group> <img> <out.png>")
		h := open(args[2])
		qs, img := groupAndImage(l, h, args[3], args[4], args[5])
		var width float64
		if len(args) > 7 {
			width, _ = strconv.ParseFloat(args[7], 64)
		}
		displayed := vector.Size{}
		if b := img.Bounds(); width > 0 {
			displayed = vector.Size{W: width, H: width * float64(b.Dy()) / float64(b.Dx())}
		}
		out, err := os.Create(args[6])
		if err != nil {
			fail(l, "create output failed", err)
		}
		err = preview.RenderPNG(out, img, displayed, qs, preview.PNGOptions{ShowAnswers: true})
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			fail(l, "render failed", err)
		}
		fmt.Println("Wrote", args[6])
	case "set-image":
		need(6, "<dir> <part> <group> <img>")
		h := open(args[2])
		n, err := strconv.Atoi(args[3])
		if err != nil {
			fail(l, "bad part number", err)
		}
		data, err := os.ReadFile(args[5])
		if err != nil {
			fail(l, "read image failed", err)
		}
		opts := workspaceOptions(h, storage.NewFileStore(h), cfg)
		if cfg.Upload.URL != "" {
			opts.Uploader = upload.NewHTTPClient(cfg.Upload.URL, tokens.Upload, cfg.Upload.Timeout())
		}
		ws, err := authoring.Open(ctx, opts, n)
		if err != nil {
			fail(l, "open part failed", err)
		}
		ed, err := ws.EditFlowChart(args[4])
		if err != nil {
			fail(l, "edit group failed", err)
		}
		if err := ed.UploadImage(ctx, upload.File{Name: filepath.Base(args[5]), Data: data}); err != nil {
			fail(l, "upload failed", err)
		}
		res, err := ws.CommitFlowChart(ctx, args[4], ed)
		if err != nil {
			fail(l, "commit failed", err)
		}
		fmt.Printf("Group %s now uses %s (questions %v)\n", res.GroupID, ed.ImageURL(), res.Numbers)
	case "set-part":
		need(6, "<dir> <part> <aspect> <value>")
		h := open(args[2])
		n, err := strconv.Atoi(args[3])
		if err != nil {
			fail(l, "bad part number", err)
		}
		aspect, err := domain.ParseAspect(args[4])
		if err != nil {
			fail(l, "bad aspect", err)
		}
		opts := workspaceOptions(h, storage.NewFileStore(h), cfg)
		if cfg.Upload.URL != "" {
			opts.Uploader = upload.NewHTTPClient(cfg.Upload.URL, tokens.Upload, cfg.Upload.Timeout())
		}
		ws, err := authoring.Open(ctx, opts, n)
		if err != nil {
			fail(l, "open part failed", err)
		}
		value := args[5]
		if data, rerr := os.ReadFile(value); aspect == domain.AspectAudio && rerr == nil {
			res, err := ws.UploadAudio(ctx, upload.File{Name: filepath.Base(value), Data: data})
			if err != nil {
				fail(l, "upload failed", err)
			}
			value = res.URL
		} else if err := ws.SetPartAttr(ctx, domain.PartKey{Part: n, Aspect: aspect}, value); err != nil {
			fail(l, "set part failed", err)
		}
		fmt.Printf("Part %d %s = %s\n", n, aspect, value)
	case "export-pdf":
		need(4, "<dir> <out.pdf>")
		h := open(args[2])
		var opt export.AnswerKeyOptions
		opt.Artifacts = true
		for _, a := range args[4:] {
			n, err := strconv.Atoi(a)
			if err != nil {
				fail(l, "bad part number", err)
			}
			opt.Parts = append(opt.Parts, n)
		}
		if err := export.ExportAnswerKey(h, args[3], opt); err != nil {
			fail(l, "export failed", err)
		}
		fmt.Println("Answer key written.")
	case "index":
		need(4, "<dir> <command>")
		h := open(args[2])
		runIndex(ctx, l, h, args[3:])
	case "push":
		need(3, "<dir>")
		h := open(args[2])
		remote := remoteStore(cfg, tokens, h.Module.ID)
		for _, p := range h.Module.Parts {
			if err := remote.SavePart(ctx, p); err != nil {
				fail(l, "push failed", err)
			}
			fmt.Printf("Pushed part %d\n", p.Number)
		}
	case "pull":
		need(4, "<dir> <part>")
		h := open(args[2])
		n, err := strconv.Atoi(args[3])
		if err != nil {
			fail(l, "bad part number", err)
		}
		p, err := remoteStore(cfg, tokens, h.Module.ID).LoadPart(ctx, n)
		if err != nil {
			fail(l, "pull failed", err)
		}
		if err := storage.NewFileStore(h).SavePart(ctx, p); err != nil {
			fail(l, "save pulled part failed", err)
		}
		fmt.Printf("Pulled part %d (%d questions)\n", p.Number, len(p.Questions))
	case "serve":
		if err := backend.Start(ctx, backend.ConfigFromEnv()); err != nil && !errors.Is(err, context.Canceled) {
			fail(l, "server failed", err)
		}
	case "ui":
		need(6, "<dir> <part> <group> <img>")
		h := open(args[2])
		qs, img := groupAndImage(l, h, args[3], args[4], args[5])
		err := ui.Run(ui.PreviewOptions{
			Title:     fmt.Sprintf("%s: part %s", h.Module.Title, args[3]),
			Image:     img,
			Questions: qs,
			Debounce:  cfg.Editor.Debounce(),
		})
		if err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}
	default:
		usage()
	}
	telemetry.Flush(ctx)
}

func fail(l *slog.Logger, msg string, err error) {
	l.Error(msg, slog.Any("err", err))
	fmt.Println("Error:", err)
	os.Exit(1)
}

func workspaceOptions(h *storage.ModuleHandle, store storage.PartStore, cfg config.AppConfig) authoring.Options {
	return authoring.Options{
		ModuleID:       h.Module.ID,
		Store:          store,
		History:        authoring.ModuleHistory{H: h},
		StrictVertical: cfg.Editor.StrictVertical,
	}
}

func remoteStore(cfg config.AppConfig, tok config.Tokens, moduleID string) storage.PartStore {
	return backend.NewClient(cfg.Backend.BaseURL, tok.Backend, cfg.Backend.Timeout()).Module(moduleID)
}

func groupAndImage(l *slog.Logger, h *storage.ModuleHandle, partArg, groupID, imgPath string) ([]domain.Question, image.Image) {
	n, err := strconv.Atoi(partArg)
	if err != nil {
		fail(l, "bad part number", err)
	}
	var qs []domain.Question
	for i := range h.Module.Parts {
		if h.Module.Parts[i].Number == n {
			qs = h.Module.Parts[i].GroupQuestions(groupID)
		}
	}
	if len(qs) == 0 {
		fail(l, "no such group", fmt.Errorf("part %d has no group %q", n, groupID))
	}
	f, err := os.Open(imgPath)
	if err != nil {
		fail(l, "open image failed", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		fail(l, "decode image failed", err)
	}
	return qs, img
}

func runIndex(ctx context.Context, l *slog.Logger, h *storage.ModuleHandle, args []string) {
	switch args[0] {
	case "check":
		rebuilt, err := storage.DetectAndRebuildIndex(ctx, h.Root, h.Module)
		if err != nil {
			fail(l, "index check failed", err)
		}
		if rebuilt {
			fmt.Println("Index was damaged and has been rebuilt.")
		} else {
			fmt.Println("Index is healthy.")
		}
		return
	case "rebuild":
		if err := storage.RebuildIndex(ctx, h.Root, h.Module); err != nil {
			fail(l, "rebuild failed", err)
		}
		fmt.Println("Index rebuilt.")
		return
	}
	if len(args) < 2 {
		usage()
		os.Exit(2)
	}
	var (
		res []storage.SearchResult
		err error
	)
	switch args[0] {
	case "search":
		res, err = storage.Search(ctx, h.Root, storage.SearchQuery{Text: args[1], Limit: 50})
	case "group":
		res, err = storage.QuestionsByGroup(ctx, h.Root, args[1])
	case "where-used":
		res, err = storage.WhereUsed(ctx, h.Root, args[1])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fail(l, "index query failed", err)
	}
	for _, r := range res {
		fmt.Printf("part %d  Q%-3d %-17s %-12s %s\n", r.Part, r.Number, r.Type, r.GroupID, r.Answer)
	}
	if len(res) == 0 {
		fmt.Println("No matches.")
	}
}
