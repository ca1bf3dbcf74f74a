package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/trialmatch/internal/core/domain"
	"github.com/kirillkom/trialmatch/internal/core/ports"
)

type stubSearcher struct {
	terms []string
	page  int
	err   error
}

func (s *stubSearcher) Run(_ context.Context, _ string, _ int, terms []string, page int) (domain.SearchState, domain.TrialPage, error) {
	s.terms, s.page = terms, page
	if s.err != nil {
		return domain.SearchState{}, domain.TrialPage{}, s.err
	}
	trials := []domain.FlattenedTrial{
		{NCTID: "NCT01234567", BriefTitle: "NASH study", OverallStatus: "RECRUITING", EligibilityMinimumAge: 18, EligibilityMaximumAge: 65, MasterDiagnoses: []string{"Liver Disease"}},
		{NCTID: "NCT07654321", BriefTitle: "Cardio study", OverallStatus: "RECRUITING", EligibilityMaximumAge: 999, MasterDiagnoses: []string{}},
	}
	state := domain.NewSearchState(10)
	state.Step = domain.StepResults
	state.Trials = trials
	state.Progress = &domain.SearchProgress{RawTrials: 5, AgeFilteredTrials: 2, UniqueConditions: 3, MasterTerms: 1}
	state.Taxonomy = &domain.TaxonomyData{
		Summary: domain.TaxonomySummary{Genetic: []string{}, RecentEvents: []string{}, OtherMajorDiagnosis: []string{"Liver Disease"}},
		Lookup:  map[string]string{"nash": "Liver Disease"},
	}
	for _, term := range terms {
		state.SelectedTerms[term] = struct{}{}
	}
	return state, domain.TrialPage{Items: trials, Page: 1, PageSize: 10, TotalPages: 1, TotalFiltered: 2}, nil
}

type stubTrials struct {
	err error
}

func (s stubTrials) FetchTrial(_ context.Context, nctID string) (*domain.FlattenedTrial, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.FlattenedTrial{NCTID: nctID, BriefTitle: "NASH study", EligibilityCriteria: "Adults only"}, nil
}

// scriptedConn answers every start frame with a greeting and every message
// with an echo, preceded by a typing frame.
type scriptedConn struct {
	frames chan domain.ChatFrame
	once   sync.Once
	done   chan struct{}
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{frames: make(chan domain.ChatFrame, 8), done: make(chan struct{})}
}

func (c *scriptedConn) Send(_ context.Context, frame domain.ChatFrame) error {
	switch frame.Type {
	case domain.FrameStart, domain.FrameInit:
		c.frames <- domain.ChatFrame{Type: domain.FrameTyping}
		c.frames <- domain.ChatFrame{Type: domain.FrameMessage, Text: "Hi, are you 18 or older?"}
	case domain.FrameMessage:
		c.frames <- domain.ChatFrame{Type: domain.FrameTyping}
		c.frames <- domain.ChatFrame{Type: domain.FrameMessage, Text: "echo: " + frame.Text}
	}
	return nil
}

func (c *scriptedConn) Receive(ctx context.Context) (domain.ChatFrame, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-c.done:
		return domain.ChatFrame{}, io.EOF
	case <-ctx.Done():
		return domain.ChatFrame{}, ctx.Err()
	}
}

func (c *scriptedConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

type scriptedDialer struct{}

func (scriptedDialer) Dial(context.Context, domain.FlattenedTrial) (ports.ChatConn, error) {
	return newScriptedConn(), nil
}

func execute(t *testing.T, services Services, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(services)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestSearchCmd_RequiresExactlyOneArg(t *testing.T) {
	_, err := execute(t, Services{Searcher: &stubSearcher{}}, "", "search", "--age", "30")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestSearchCmd_RequiresAge(t *testing.T) {
	_, err := execute(t, Services{Searcher: &stubSearcher{}}, "", "search", "nash")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "age" not set`)
}

func TestSearchCmd_HasFlags(t *testing.T) {
	cmd := newSearchCommand(Services{})
	page := cmd.Flags().Lookup("page")
	require.NotNil(t, page)
	assert.Equal(t, "p", page.Shorthand)
	assert.Equal(t, "1", page.DefValue)
	require.NotNil(t, cmd.Flags().Lookup("term"))
	require.NotNil(t, cmd.Flags().Lookup("export"))
}

func TestSearchCmd_PrintsResults(t *testing.T) {
	searcher := &stubSearcher{}
	out, err := execute(t, Services{Searcher: searcher}, "", "search", "nash", "--age", "26", "--term", "Liver Disease")

	require.NoError(t, err)
	assert.Contains(t, out, "Fetched 5 trials, 2 match the age")
	assert.Contains(t, out, "OtherMajorDiagnosis: Liver Disease")
	assert.Contains(t, out, "Results (page 1 of 1, 2 trials):")
	assert.Contains(t, out, "[1] NCT01234567 NASH study")
	assert.Equal(t, []string{"Liver Disease"}, searcher.terms)
}

func TestSearchCmd_JSONOutput(t *testing.T) {
	out, err := execute(t, Services{Searcher: &stubSearcher{}}, "", "search", "nash", "--age", "26", "--json")
	require.NoError(t, err)

	var decoded struct {
		State domain.SearchState `json:"state"`
		Page  domain.TrialPage   `json:"page"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, domain.StepResults, decoded.State.Step)
	assert.Len(t, decoded.Page.Items, 2)
}

func TestSearchCmd_ExportsFilteredTrials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trials.xlsx")
	out, err := execute(t, Services{Searcher: &stubSearcher{}}, "", "search", "nash", "--age", "26", "--term", "Liver Disease", "--export", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 1 trials to "+path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestSearchCmd_SurfacesPublicError(t *testing.T) {
	searcher := &stubSearcher{err: domain.WrapError(domain.ErrUpstream, "fetch trials",
		domain.NewPublicError("Failed to fetch from ClinicalTrials.gov", errors.New("status 503")))}
	_, err := execute(t, Services{Searcher: searcher}, "", "search", "nash", "--age", "26")
	require.Error(t, err)
	assert.Equal(t, "search failed: Failed to fetch from ClinicalTrials.gov", err.Error())
}

func TestTrialCmd(t *testing.T) {
	out, err := execute(t, Services{Trials: stubTrials{}}, "", "trial", "NCT01234567")
	require.NoError(t, err)
	var trial domain.FlattenedTrial
	require.NoError(t, json.Unmarshal([]byte(out), &trial))
	assert.Equal(t, "NCT01234567", trial.NCTID)

	_, err = execute(t, Services{Trials: stubTrials{err: domain.WrapError(domain.ErrTrialNotFound, "fetch", errors.New("404"))}}, "", "trial", "NCT00000000")
	require.Error(t, err)
	assert.Equal(t, "trial NCT00000000 not found", err.Error())
}

func TestChatCmd_ConversesOverStdin(t *testing.T) {
	services := Services{Trials: stubTrials{}, Dialer: scriptedDialer{}}
	root := NewRootCommand(services)
	buf := &lockedBuffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader("yes\n/quit\n"))
	root.SetArgs([]string{"chat", "NCT01234567", "--reply-timeout", "2s"})

	done := make(chan error, 1)
	go func() { done <- root.Execute() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("chat command did not finish")
	}

	out := buf.String()
	assert.Contains(t, out, "Screening for NCT01234567: NASH study")
	assert.Contains(t, out, "assistant> Hi, are you 18 or older?")
	assert.Contains(t, out, "assistant> echo: yes")
}

func TestMCPCmd_RequiresServer(t *testing.T) {
	_, err := execute(t, Services{}, "", "mcp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mcp server not configured")
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
