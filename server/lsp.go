package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/mvm/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "mvm-lsp"

var lspLog = commonlog.GetLogger("mvm.lsp")

// LanguageServer provides editor features for .mvm assembly: diagnostics,
// completion of mnemonics and labels, hover documentation, and label
// definitions.
type LanguageServer struct {
	mu   sync.Mutex
	docs map[protocol.DocumentUri]string

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP() *LanguageServer {
	s := &LanguageServer{
		docs:    make(map[protocol.DocumentUri]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.didOpen,
		TextDocumentDidChange: s.didChange,
		TextDocumentDidClose:  s.didClose,

		TextDocumentCompletion: s.completion,
		TextDocumentHover:      s.hoverAt,
		TextDocumentDefinition: s.definition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)
	return s
}

// Run serves a single client over stdin and stdout until it exits.
func (s *LanguageServer) Run() error {
	return s.server.RunStdio()
}

func (s *LanguageServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	lspLog.Info("mvm LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}
	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"@", "-"},
	}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LanguageServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LanguageServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LanguageServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

func (s *LanguageServer) didOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.update(ctx, params.TextDocument.URI, params.TextDocument.Text)
	return nil
}

func (s *LanguageServer) didChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// Full sync: only the final change matters.
	for i := len(params.ContentChanges) - 1; i >= 0; i-- {
		if whole, ok := params.ContentChanges[i].(protocol.TextDocumentContentChangeEventWhole); ok {
			s.update(ctx, params.TextDocument.URI, whole.Text)
			break
		}
	}
	return nil
}

func (s *LanguageServer) didClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	s.mu.Lock()
	delete(s.docs, params.TextDocument.URI)
	s.mu.Unlock()
	s.publish(ctx, params.TextDocument.URI, []protocol.Diagnostic{})
	return nil
}

func (s *LanguageServer) update(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	s.mu.Lock()
	s.docs[uri] = text
	s.mu.Unlock()
	s.publish(ctx, uri, diagnostics(text))
}

func (s *LanguageServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[uri]
	return text, ok
}

func (s *LanguageServer) completion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return complete(text, prefix), nil
}

func (s *LanguageServer) hoverAt(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(text, word), nil
}

func (s *LanguageServer) definition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := strings.TrimPrefix(extractWord(text, params.Position), "@")
	line, ok := labelLines(text)[word]
	if !ok {
		return nil, nil
	}
	return []protocol.Location{{
		URI: uri,
		Range: protocol.Range{
			Start: protocol.Position{Line: protocol.UInteger(line), Character: 0},
			End:   protocol.Position{Line: protocol.UInteger(line), Character: 0},
		},
	}}, nil
}

// complete offers mnemonics for a bare prefix and the document's labels
// for an @ prefix.
func complete(text, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem

	if label, ok := strings.CutPrefix(prefix, "@"); ok {
		names := make([]string, 0)
		for name := range labelLines(text) {
			if strings.HasPrefix(name, label) {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		kind := protocol.CompletionItemKindReference
		detail := "label"
		for _, name := range names {
			insert := "@" + name
			items = append(items, protocol.CompletionItem{
				Label:      insert,
				Kind:       &kind,
				Detail:     &detail,
				InsertText: &insert,
			})
		}
		return items
	}

	kind := protocol.CompletionItemKindKeyword
	for _, op := range vm.OpCodes() {
		info := op.Info()
		if !strings.HasPrefix(info.Mnemonic, prefix) {
			continue
		}
		mnemonic := info.Mnemonic
		usage := info.Usage
		items = append(items, protocol.CompletionItem{
			Label:      mnemonic,
			Kind:       &kind,
			Detail:     &usage,
			InsertText: &mnemonic,
		})
	}
	return items
}

// hover documents a mnemonic or a label.
func hover(text, word string) *protocol.Hover {
	var b strings.Builder
	if op, ok := vm.ParseOpCode(word); ok {
		info := op.Info()
		fmt.Fprintf(&b, "**%s** (%s)\n\n```\n%s\n```\n\n", info.Mnemonic, info.Category, info.Usage)
		switch {
		case info.MaxArgs == vm.Variadic:
			fmt.Fprintf(&b, "%d or more operands", info.MinArgs)
		case info.MinArgs == info.MaxArgs:
			fmt.Fprintf(&b, "%d operands", info.MinArgs)
		default:
			fmt.Fprintf(&b, "%d to %d operands", info.MinArgs, info.MaxArgs)
		}
	} else if line, ok := labelLines(text)[strings.TrimPrefix(word, "@")]; ok {
		fmt.Fprintf(&b, "label **%s**, line %d", strings.TrimPrefix(word, "@"), line+1)
	} else {
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

// labelLines maps each label defined in text to its 0-based line.
func labelLines(text string) map[string]int {
	out := make(map[string]int)
	for i, line := range strings.Split(text, "\n") {
		if c := strings.IndexByte(line, ';'); c >= 0 {
			line = line[:c]
		}
		line = strings.TrimSpace(line)
		name, ok := strings.CutSuffix(line, ":")
		if !ok || name == "" || name == "lambda" || strings.ContainsAny(name, " \t") {
			continue
		}
		if _, dup := out[name]; !dup {
			out[name] = i
		}
	}
	return out
}

func (s *LanguageServer) publish(ctx *glsp.Context, uri protocol.DocumentUri, diags []protocol.Diagnostic) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diags,
	})
}

func diagnostics(text string) []protocol.Diagnostic {
	diags := []protocol.Diagnostic{}
	severity := protocol.DiagnosticSeverityError
	source := lspName
	for _, d := range Diagnose(text) {
		pos := protocol.Position{}
		if d.Line > 0 {
			pos.Line = protocol.UInteger(d.Line - 1)
		}
		if d.Column > 0 {
			pos.Character = protocol.UInteger(d.Column - 1)
		}
		diags = append(diags, protocol.Diagnostic{
			Range:    protocol.Range{Start: pos, End: pos},
			Severity: &severity,
			Source:   &source,
			Message:  d.Message,
		})
	}
	return diags
}

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || strings.ContainsRune("_-?!.", ch)
}

// wordSpan returns the line under pos and the bounds of the word around
// the cursor, widened to a leading @.
func wordSpan(text string, pos protocol.Position) (line string, start, col, end int) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return "", 0, 0, 0
	}
	line = lines[pos.Line]
	col = min(int(pos.Character), len(line))
	start, end = col, col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	if start > 0 && line[start-1] == '@' {
		start--
	}
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}
	return line, start, col, end
}

// extractPrefix returns the part of the word before the cursor.
func extractPrefix(text string, pos protocol.Position) string {
	line, start, col, _ := wordSpan(text, pos)
	return line[start:col]
}

// extractWord returns the whole word under the cursor.
func extractWord(text string, pos protocol.Position) string {
	line, start, _, end := wordSpan(text, pos)
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
