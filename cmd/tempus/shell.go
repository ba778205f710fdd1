package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/tempusdb/tempus/internal/common"
	"github.com/tempusdb/tempus/pkg"
)

// errExitRequested unwinds the dispatch loop when the user types exit.
var errExitRequested = errors.New("exit requested")

// shell is the interactive front end: a readline loop feeding the same
// session dispatcher the batch mode uses.
type shell struct {
	session     *session
	readline    *readline.Instance
	historyFile string
}

func newShell(db *pkg.DB) (*shell, error) {
	// History lives in the user's home directory, like every other
	// REPL they use.
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	historyFile := homeDir + "/.tempus_history"

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[1;36mtempus>\033[0m ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold: true,

		AutoComplete: shellCompleter(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize readline: %v", err)
	}

	return &shell{
		session:     &session{db: db, out: os.Stdout},
		readline:    rl,
		historyFile: historyFile,
	}, nil
}

func shellCompleter() readline.AutoCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("tables"),
		readline.PcItem("info"),
		readline.PcItem("create",
			readline.PcItem("table"),
			readline.PcItem("index"),
		),
		readline.PcItem("drop",
			readline.PcItem("table"),
			readline.PcItem("index"),
		),
		readline.PcItem("insert"),
		readline.PcItem("update"),
		readline.PcItem("delete"),
		readline.PcItem("get"),
		readline.PcItem("scan",
			readline.PcItem("asof"),
			readline.PcItem("from"),
			readline.PcItem("between"),
			readline.PcItem("within"),
			readline.PcItem("all"),
		),
		readline.PcItem("compact"),
		readline.PcItem("verify"),
		readline.PcItem("snapshot"),
		readline.PcItem("restore"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

// Run starts the shell loop.
func (sh *shell) Run() error {
	fmt.Println(common.VersionString)
	fmt.Println("Enter commands, 'help' for assistance, or 'exit' to quit.")
	fmt.Println("Use Up/Down arrows for history, Ctrl+R to search history.")

	for {
		line, err := sh.readline.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				break
			}
			return err
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		start := time.Now()
		err = sh.session.dispatch(input)
		if errors.Is(err, errExitRequested) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "\033[1;31mError:\033[0m %v\n", err)
			continue
		}
		fmt.Printf("\033[1;32mdone in %v\033[0m\n", time.Since(start))
	}

	return nil
}

// Close closes the shell and cleans up resources.
func (sh *shell) Close() error {
	if sh.readline != nil {
		return sh.readline.Close()
	}
	return nil
}

// session executes shell commands against one open database. It is
// shared by the interactive shell, the batch mode and the one-shot
// subcommands so all three speak the same language.
type session struct {
	db  *pkg.DB
	out io.Writer
}

func (s *session) dispatch(line string) error {
	fields, err := splitFields(line)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	verb, args := strings.ToLower(fields[0]), fields[1:]

	switch verb {
	case "exit", "quit", "\\q":
		return errExitRequested
	case "help", "\\h", "\\?":
		s.printHelp()
		return nil
	case "tables":
		return s.cmdTables(args)
	case "info":
		return s.cmdInfo(args)
	case "create":
		return s.cmdCreate(args)
	case "drop":
		return s.cmdDrop(args)
	case "insert":
		return s.cmdInsert(args)
	case "update":
		return s.cmdUpdate(args)
	case "delete":
		return s.cmdDelete(args)
	case "get":
		return s.cmdGet(args)
	case "scan":
		return s.cmdScan(args)
	case "compact":
		return s.cmdCompact(args)
	case "verify":
		return s.cmdVerify(args)
	case "snapshot":
		return s.cmdSnapshot(args)
	case "restore":
		return s.cmdRestore(args)
	default:
		return fmt.Errorf("unknown command %q, try 'help'", verb)
	}
}

func (s *session) cmdTables(args []string) error {
	if len(args) != 0 {
		return errors.New("usage: tables")
	}
	renderTables(s.out, s.db)
	return nil
}

func (s *session) cmdInfo(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: info <table>")
	}
	tbl, err := s.db.Table(args[0])
	if err != nil {
		return err
	}
	renderTableInfo(s.out, tbl)
	return nil
}

// cmdCreate handles both table and index creation:
//
//	create table <name> <col>:<type>[:null] ...
//	create index <table> <name> <col,...> [unique]
func (s *session) cmdCreate(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: create table|index ...")
	}
	switch strings.ToLower(args[0]) {
	case "table":
		return s.createTable(args[1:])
	case "index":
		return s.createIndex(args[1:])
	default:
		return fmt.Errorf("unknown create target %q", args[0])
	}
}

func (s *session) createTable(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: create table <name> <col>:<type>[:null] ...")
	}
	schema := &pkg.Schema{TableName: args[0]}
	for i, spec := range args[1:] {
		col, err := parseColumnSpec(i, spec)
		if err != nil {
			return err
		}
		schema.Columns = append(schema.Columns, col)
	}
	if _, err := s.db.CreateTable(schema); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "created table %s (%d columns)\n", schema.TableName, len(schema.Columns))
	return nil
}

func (s *session) createIndex(args []string) error {
	if len(args) < 3 {
		return errors.New("usage: create index <table> <name> <col,...> [unique]")
	}
	tbl, err := s.db.Table(args[0])
	if err != nil {
		return err
	}
	spec := pkg.IndexSpec{Name: args[1], Columns: splitList(args[2])}
	for _, opt := range args[3:] {
		if strings.EqualFold(opt, "unique") {
			spec.Unique = true
		} else {
			return fmt.Errorf("unknown index option %q", opt)
		}
	}
	if err := tbl.CreateIndex(spec); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "created index %s on %s\n", spec.Name, tbl.Name())
	return nil
}

func (s *session) cmdDrop(args []string) error {
	switch {
	case len(args) == 2 && strings.EqualFold(args[0], "table"):
		if err := s.db.DropTable(args[1]); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "dropped table %s\n", args[1])
		return nil
	case len(args) == 3 && strings.EqualFold(args[0], "index"):
		tbl, err := s.db.Table(args[1])
		if err != nil {
			return err
		}
		if err := tbl.DropIndex(args[2]); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "dropped index %s\n", args[2])
		return nil
	default:
		return errors.New("usage: drop table <name> | drop index <table> <name>")
	}
}

// cmdInsert: insert <table> <id> col=value ... [@ts]
func (s *session) cmdInsert(args []string) error {
	tbl, rowID, row, ts, err := s.parseWrite("insert", args)
	if err != nil {
		return err
	}
	if err := tbl.Insert(rowID, row, ts); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "inserted row %d\n", rowID)
	return nil
}

// cmdUpdate: update <table> <id> col=value ... [@ts]
//
// Columns left out of the assignment list keep their current values.
func (s *session) cmdUpdate(args []string) error {
	tbl, rowID, row, ts, err := s.parseWrite("update", args)
	if err != nil {
		return err
	}
	if current, ok := tbl.GetCurrent(rowID); ok {
		for i, v := range row {
			if v == nil {
				row[i] = current.Data[i]
			}
		}
	}
	fillMissing(tbl.Schema(), row)
	if err := tbl.Update(rowID, row, ts); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "updated row %d\n", rowID)
	return nil
}

// parseWrite parses the shared shape of insert and update. Unassigned
// columns come back nil so the caller can decide how to fill them.
func (s *session) parseWrite(verb string, args []string) (pkg.Table, int64, pkg.Row, int64, error) {
	if len(args) < 3 {
		return nil, 0, nil, 0, fmt.Errorf("usage: %s <table> <id> col=value ... [@ts]", verb)
	}
	tbl, err := s.db.Table(args[0])
	if err != nil {
		return nil, 0, nil, 0, err
	}
	rowID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return nil, 0, nil, 0, fmt.Errorf("row id %q: %v", args[1], err)
	}

	assignments := args[2:]
	ts := int64(0)
	if last := assignments[len(assignments)-1]; strings.HasPrefix(last, "@") {
		ts, err = strconv.ParseInt(last[1:], 10, 64)
		if err != nil {
			return nil, 0, nil, 0, fmt.Errorf("timestamp %q: %v", last, err)
		}
		assignments = assignments[:len(assignments)-1]
	}

	schema := tbl.Schema()
	row := make(pkg.Row, len(schema.Columns))
	for _, assign := range assignments {
		name, raw, ok := strings.Cut(assign, "=")
		if !ok {
			return nil, 0, nil, 0, fmt.Errorf("expected col=value, got %q", assign)
		}
		pos := schema.ColumnIndex(name)
		if pos < 0 {
			return nil, 0, nil, 0, fmt.Errorf("column %s: %w", name, pkg.ErrColumnNotFound)
		}
		val, err := parseValue(schema.Columns[pos], raw)
		if err != nil {
			return nil, 0, nil, 0, err
		}
		row[pos] = val
	}

	if verb == "insert" {
		fillMissing(schema, row)
	}
	return tbl, rowID, row, ts, nil
}

// fillMissing replaces unassigned positions with typed NULLs.
func fillMissing(schema *pkg.Schema, row pkg.Row) {
	for i, v := range row {
		if v == nil {
			row[i] = pkg.NewNullValue(schema.Columns[i].Type)
		}
	}
}

// cmdDelete: delete <table> <id> [@ts]
func (s *session) cmdDelete(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.New("usage: delete <table> <id> [@ts]")
	}
	tbl, err := s.db.Table(args[0])
	if err != nil {
		return err
	}
	rowID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("row id %q: %v", args[1], err)
	}
	ts := int64(0)
	if len(args) == 3 {
		if !strings.HasPrefix(args[2], "@") {
			return errors.New("usage: delete <table> <id> [@ts]")
		}
		ts, err = strconv.ParseInt(args[2][1:], 10, 64)
		if err != nil {
			return fmt.Errorf("timestamp %q: %v", args[2], err)
		}
	}
	if err := tbl.Delete(rowID, ts); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "deleted row %d\n", rowID)
	return nil
}

// cmdGet: get <table> <id>
func (s *session) cmdGet(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: get <table> <id>")
	}
	tbl, err := s.db.Table(args[0])
	if err != nil {
		return err
	}
	rowID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("row id %q: %v", args[1], err)
	}
	v, ok := tbl.GetCurrent(rowID)
	if !ok {
		return fmt.Errorf("row %d: %w", rowID, pkg.ErrRowNotFound)
	}
	renderVersions(s.out, tbl.Schema(), pkg.Current(), singleVersion(v), 0)
	return nil
}

// cmdScan: scan <table> [mode] [where <cond>] [show <col,...>] [via <index> <key,...>]
//
// Modes: current (default), all, asof <t>, from <a> to <b>,
// between <a> <b>, within <a> <b>.
func (s *session) cmdScan(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: scan <table> [asof <t> | from <a> to <b> | between <a> <b> | within <a> <b> | all] [where <cond>] [show <cols>] [via <index> <key>]")
	}
	name := args[0]
	rest := args[1:]

	q := pkg.Current()
	var opts scanOptions

	next := func() (string, error) {
		if len(rest) == 0 {
			return "", errors.New("unexpected end of scan command")
		}
		tok := rest[0]
		rest = rest[1:]
		return tok, nil
	}
	nextInt := func() (int64, error) {
		tok, err := next()
		if err != nil {
			return 0, err
		}
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("timestamp %q: %v", tok, err)
		}
		return n, nil
	}

	for len(rest) > 0 {
		tok, _ := next()
		switch strings.ToLower(tok) {
		case "current":
			q = pkg.Current()
		case "all":
			q = pkg.AllVersions()
		case "asof":
			t, err := nextInt()
			if err != nil {
				return err
			}
			q = pkg.AsOf(t)
		case "from":
			a, err := nextInt()
			if err != nil {
				return err
			}
			if tok, err = next(); err != nil || strings.ToLower(tok) != "to" {
				return errors.New("usage: scan <table> from <a> to <b>")
			}
			b, err := nextInt()
			if err != nil {
				return err
			}
			q = pkg.FromTo(a, b)
		case "between":
			a, err := nextInt()
			if err != nil {
				return err
			}
			b, err := nextInt()
			if err != nil {
				return err
			}
			q = pkg.Between(a, b)
		case "within":
			a, err := nextInt()
			if err != nil {
				return err
			}
			b, err := nextInt()
			if err != nil {
				return err
			}
			q = pkg.ContainedIn(a, b)
		case "where":
			cond, err := next()
			if err != nil {
				return err
			}
			opts.where = cond
		case "show":
			cols, err := next()
			if err != nil {
				return err
			}
			opts.columns = splitList(cols)
		case "via":
			idx, err := next()
			if err != nil {
				return err
			}
			key, err := next()
			if err != nil {
				return err
			}
			opts.index, opts.key = idx, key
		case "limit":
			n, err := nextInt()
			if err != nil {
				return err
			}
			opts.limit = int(n)
		default:
			return fmt.Errorf("unexpected token %q in scan", tok)
		}
	}

	return s.scanTable(name, q, opts)
}

// scanOptions carries the non-temporal parts of a read: filter,
// projection, index access path and result cap.
type scanOptions struct {
	where   string
	columns []string
	index   string
	key     string
	limit   int
}

// scanTable runs one temporal read and renders the result. Both the
// shell's scan verb and the query subcommand end up here.
func (s *session) scanTable(name string, q pkg.TemporalQuery, opts scanOptions) error {
	tbl, err := s.db.Table(name)
	if err != nil {
		return err
	}
	schema := tbl.Schema()

	if opts.where != "" {
		pred, err := parseCondition(schema, opts.where)
		if err != nil {
			return err
		}
		q = q.Where(pred)
	}
	if len(opts.columns) > 0 {
		q = q.Project(opts.columns...)
	}

	var sc pkg.Scanner
	if opts.index != "" {
		key, err := parseIndexKey(tbl, opts.index, opts.key)
		if err != nil {
			return err
		}
		sc, err = tbl.ScanIndex(opts.index, key, q)
		if err != nil {
			return err
		}
	} else {
		sc, err = tbl.Scan(q)
		if err != nil {
			return err
		}
	}
	defer sc.Close()

	return renderVersions(s.out, schema, q, sc, opts.limit)
}

// cmdCompact: compact <table> <horizon>
func (s *session) cmdCompact(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: compact <table> <horizon>")
	}
	tbl, err := s.db.Table(args[0])
	if err != nil {
		return err
	}
	horizon, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("horizon %q: %v", args[1], err)
	}
	stats, err := tbl.CompactHistory(context.Background(), horizon)
	if err != nil {
		return err
	}
	printCompactStats(s.out, stats)
	return nil
}

func (s *session) cmdSnapshot(args []string) error {
	if len(args) != 0 {
		return errors.New("usage: snapshot")
	}
	info, err := s.db.CreateSnapshot(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "snapshot %s: %d tables, %d versions\n  %s\n",
		info.ID, info.Tables, info.Versions, info.URL)
	return nil
}

func (s *session) cmdRestore(args []string) error {
	if len(args) > 1 {
		return errors.New("usage: restore [url]")
	}
	url := ""
	if len(args) == 1 {
		url = args[0]
	}
	if err := s.db.RestoreSnapshot(context.Background(), url); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "restored %d tables\n", len(s.db.ListTables()))
	return nil
}

// printHelp displays help information.
func (s *session) printHelp() {
	fmt.Fprintln(s.out, "\033[1mtempus shell commands:\033[0m")
	fmt.Fprintln(s.out, "")
	fmt.Fprintln(s.out, "  \033[1;33mTables:\033[0m")
	fmt.Fprintln(s.out, "    tables                               List tables")
	fmt.Fprintln(s.out, "    info <table>                         Show schema, indexes and stats")
	fmt.Fprintln(s.out, "    create table <name> <col>:<type>...  Create a table (types: int, float,")
	fmt.Fprintln(s.out, "                                         text, bool, timestamp, json; append")
	fmt.Fprintln(s.out, "                                         :null for a nullable column)")
	fmt.Fprintln(s.out, "    drop table <name>                    Drop a table")
	fmt.Fprintln(s.out, "    create index <table> <name> <cols> [unique]")
	fmt.Fprintln(s.out, "    drop index <table> <name>")
	fmt.Fprintln(s.out, "")
	fmt.Fprintln(s.out, "  \033[1;33mWrites:\033[0m")
	fmt.Fprintln(s.out, "    insert <table> <id> col=value ... [@ts]")
	fmt.Fprintln(s.out, "    update <table> <id> col=value ... [@ts]")
	fmt.Fprintln(s.out, "    delete <table> <id> [@ts]")
	fmt.Fprintln(s.out, "")
	fmt.Fprintln(s.out, "  \033[1;33mReads:\033[0m")
	fmt.Fprintln(s.out, "    get <table> <id>                     Current version of one row")
	fmt.Fprintln(s.out, "    scan <table>                         Current rows")
	fmt.Fprintln(s.out, "    scan <table> asof <t>                Rows as of an instant")
	fmt.Fprintln(s.out, "    scan <table> from <a> to <b>         Versions overlapping [a, b)")
	fmt.Fprintln(s.out, "    scan <table> between <a> <b>         Versions overlapping [a, b]")
	fmt.Fprintln(s.out, "    scan <table> within <a> <b>          Versions wholly inside [a, b]")
	fmt.Fprintln(s.out, "    scan <table> all                     Every version")
	fmt.Fprintln(s.out, "      ... where <col><op><value>         Filter (=, !=, >, >=, <, <=)")
	fmt.Fprintln(s.out, "      ... show <col,...>                 Project columns")
	fmt.Fprintln(s.out, "      ... via <index> <key,...>          Read through an index")
	fmt.Fprintln(s.out, "      ... limit <n>                      Cap the result")
	fmt.Fprintln(s.out, "")
	fmt.Fprintln(s.out, "  \033[1;33mMaintenance:\033[0m")
	fmt.Fprintln(s.out, "    compact <table> <horizon>            Purge history below the horizon")
	fmt.Fprintln(s.out, "    verify [table]                       Check structural invariants")
	fmt.Fprintln(s.out, "    snapshot                             Snapshot every table")
	fmt.Fprintln(s.out, "    restore [url]                        Restore a snapshot (empty db only)")
	fmt.Fprintln(s.out, "")
	fmt.Fprintln(s.out, "  \033[1;33mSpecial:\033[0m")
	fmt.Fprintln(s.out, "    help, \\h, \\?                        Show this help message")
	fmt.Fprintln(s.out, "    exit, quit, \\q                       Exit the shell")
	fmt.Fprintln(s.out, "")
}

// splitFields splits a command line on whitespace, keeping quoted
// spans (single or double) together so text values can contain spaces.
func splitFields(line string) ([]string, error) {
	var fields []string
	var current strings.Builder
	var quote byte

	flush := func() {
		if current.Len() > 0 {
			fields = append(fields, current.String())
			current.Reset()
		}
	}

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			} else {
				current.WriteByte(ch)
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == ' ' || ch == '\t':
			flush()
		default:
			current.WriteByte(ch)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	flush()
	return fields, nil
}
