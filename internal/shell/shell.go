// Package shell is a line-oriented story editor for the terminal. It drives a
// session.Session the same way the browser editor does over the websocket.
package shell

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"storyboard/internal/story/demo"
	"storyboard/internal/story/model"
	"storyboard/internal/story/service"
	"storyboard/internal/story/session"
)

const help = `commands:
  list                 show the demo and your stories
  open <n|id>          open a story by list number or id
  demo                 open the bundled demo
  new                  start a blank story
  title <text>         set the page title
  project <text>       set the project
  gallery              append an empty gallery block
  media <block> <path> add a media path to a gallery block
  show                 print the editor document
  save                 save to the open story (or create one)
  saveas [title]       save as a new story
  delete [n|id]        delete a story (default: the open one)
  dup [n|id]           duplicate a story (default: the open one)
  quit`

type Shell struct {
	Session *session.Session

	in  *bufio.Scanner
	out io.Writer

	mu  sync.Mutex
	doc model.Document
}

func New(store service.Store, fetcher demo.Fetcher, in io.Reader, out io.Writer) *Shell {
	sh := &Shell{in: bufio.NewScanner(in), out: out}
	sh.Session = session.New(store, fetcher, session.Hooks{
		OnLoad:        sh.onLoad,
		OnNew:         sh.onNew,
		GetState:      sh.document,
		OnError:       sh.onError,
		ConfirmDelete: sh.confirmDelete,
	})
	return sh
}

// Run signs in as userID and reads commands until quit or end of input.
func (sh *Shell) Run(ctx context.Context, userID string) error {
	sh.Session.SetUser(ctx, userID)
	fmt.Fprintf(sh.out, "Signed in as %s. Type help for commands.\n", userID)

	for {
		fmt.Fprint(sh.out, "> ")
		if !sh.in.Scan() {
			fmt.Fprintln(sh.out)
			return sh.in.Err()
		}
		line := strings.TrimSpace(sh.in.Text())
		if line == "" {
			continue
		}
		if quit := sh.exec(ctx, line); quit {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (sh *Shell) exec(ctx context.Context, line string) (quit bool) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "quit", "exit":
		fmt.Fprintln(sh.out, "Bye!")
		return true
	case "help":
		fmt.Fprintln(sh.out, help)
	case "list":
		sh.list()
	case "open":
		if id := sh.resolve(arg); id != "" {
			sh.Session.Open(ctx, id)
		}
	case "demo":
		sh.Session.Open(ctx, model.DemoID)
	case "new":
		sh.Session.StartNew()
	case "title":
		sh.edit(func(d *model.Document) { d.PageTitle = arg })
	case "project":
		sh.edit(func(d *model.Document) { d.Project = arg })
	case "gallery":
		sh.addGallery()
	case "media":
		sh.addMedia(arg)
	case "show":
		sh.show()
	case "save":
		sh.Session.Save(ctx)
	case "saveas":
		title := arg
		if title == "" {
			title = sh.ask("Title: ")
		}
		sh.Session.SaveAs(ctx, title)
	case "delete":
		if id := sh.target(arg); id != "" {
			sh.Session.Delete(ctx, id)
		}
	case "dup":
		if id := sh.target(arg); id != "" {
			sh.Session.Duplicate(ctx, id)
		}
	default:
		fmt.Fprintf(sh.out, "unknown command %q (try help)\n", name)
	}
	return false
}

func (sh *Shell) list() {
	st := sh.Session.Snapshot()
	for i, e := range st.Entries() {
		mark := " "
		if e.ID == st.CurrentStoryID || (e.ReadOnly && st.DemoMode) {
			mark = "*"
		}
		suffix := ""
		if e.ReadOnly {
			suffix = " (read-only)"
		}
		fmt.Fprintf(sh.out, "%s%2d  %-30s %s  %s%s\n", mark, i+1, e.Title, e.UpdatedAt.Format("2006-01-02 15:04"), e.ID, suffix)
	}
}

// resolve maps a 1-based list number to its id; anything else is taken as an id.
func (sh *Shell) resolve(arg string) string {
	if arg == "" {
		return ""
	}
	if n, err := strconv.Atoi(arg); err == nil {
		entries := sh.Session.Snapshot().Entries()
		if n < 1 || n > len(entries) {
			fmt.Fprintf(sh.out, "no story #%d\n", n)
			return ""
		}
		return entries[n-1].ID
	}
	return arg
}

// target is resolve with the open story as the default.
func (sh *Shell) target(arg string) string {
	if arg != "" {
		return sh.resolve(arg)
	}
	st := sh.Session.Snapshot()
	if st.DemoMode {
		return model.DemoID
	}
	if st.CurrentStoryID == "" {
		fmt.Fprintln(sh.out, "no story is open")
	}
	return st.CurrentStoryID
}

func (sh *Shell) ask(prompt string) string {
	fmt.Fprint(sh.out, prompt)
	if !sh.in.Scan() {
		return ""
	}
	return strings.TrimSpace(sh.in.Text())
}

func (sh *Shell) edit(fn func(d *model.Document)) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	fn(&sh.doc)
}

func (sh *Shell) addGallery() {
	block, _ := json.Marshal(model.Gallery{Type: model.GalleryType, Media: []string{}})
	var n int
	sh.edit(func(d *model.Document) {
		d.Blocks = append(d.Blocks, block)
		n = len(d.Blocks)
	})
	fmt.Fprintf(sh.out, "added gallery block %d\n", n)
}

// addMedia appends a path to gallery block n. An empty path does nothing.
func (sh *Shell) addMedia(arg string) {
	num, path, _ := strings.Cut(arg, " ")
	path = strings.TrimSpace(path)
	if path == "" {
		return
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		fmt.Fprintln(sh.out, "usage: media <block> <path>")
		return
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if n < 1 || n > len(sh.doc.Blocks) {
		fmt.Fprintf(sh.out, "no block #%d\n", n)
		return
	}
	var g model.Gallery
	if err := json.Unmarshal(sh.doc.Blocks[n-1], &g); err != nil || g.Type != model.GalleryType {
		fmt.Fprintf(sh.out, "block %d is not a gallery\n", n)
		return
	}
	g.Media = append(g.Media, path)
	block, err := json.Marshal(g)
	if err != nil {
		fmt.Fprintf(sh.out, "error: %v\n", err)
		return
	}
	sh.doc.Blocks[n-1] = block
}

func (sh *Shell) show() {
	st := sh.Session.Snapshot()
	doc := sh.document()

	switch {
	case st.DemoMode:
		fmt.Fprintln(sh.out, "story:   demo (read-only, save to keep a copy)")
	case st.CurrentStoryID != "":
		fmt.Fprintf(sh.out, "story:   %s\n", st.CurrentStoryID)
	default:
		fmt.Fprintln(sh.out, "story:   (unsaved)")
	}
	fmt.Fprintf(sh.out, "title:   %s\n", doc.PageTitle)
	fmt.Fprintf(sh.out, "project: %s\n", doc.Project)
	for i, raw := range doc.Blocks {
		var g model.Gallery
		if err := json.Unmarshal(raw, &g); err == nil && g.Type == model.GalleryType {
			fmt.Fprintf(sh.out, "  [%d] gallery: %s\n", i+1, strings.Join(g.Media, ", "))
			continue
		}
		fmt.Fprintf(sh.out, "  [%d] %s\n", i+1, raw)
	}
}

func (sh *Shell) document() model.Document {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	doc := sh.doc
	doc.Blocks = append([]json.RawMessage(nil), sh.doc.Blocks...)
	return doc
}

func (sh *Shell) onLoad(doc model.Document, meta session.LoadMeta) {
	sh.mu.Lock()
	sh.doc = doc
	sh.mu.Unlock()
	if meta.IsDemo {
		fmt.Fprintf(sh.out, "opened demo %q (read-only)\n", doc.PageTitle)
		return
	}
	fmt.Fprintf(sh.out, "opened %q\n", doc.PageTitle)
}

func (sh *Shell) onNew() {
	sh.mu.Lock()
	sh.doc = model.Document{}
	sh.mu.Unlock()
	fmt.Fprintln(sh.out, "new story")
}

func (sh *Shell) onError(err error) {
	fmt.Fprintf(sh.out, "error: %v\n", err)
}

func (sh *Shell) confirmDelete(storyID string) bool {
	title := storyID
	for _, e := range sh.Session.Snapshot().Stories {
		if e.ID == storyID {
			title = e.Title
			break
		}
	}
	answer := strings.ToLower(sh.ask(fmt.Sprintf("Delete %q? [y/N] ", title)))
	return answer == "y" || answer == "yes"
}
