package lineartrack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiamp/hq/internal/config"
	"github.com/hiamp/hq/internal/fault"
	"github.com/hiamp/hq/internal/logging"
)

const (
	teamUUID      = "11111111-1111-1111-1111-111111111111"
	eng42UUID     = "22222222-2222-2222-2222-222222222222"
	createdIssue  = "33333333-3333-3333-3333-333333333333"
	fallbackIssue = "44444444-4444-4444-4444-444444444444"
)

// fakeTracker is a minimal GraphQL endpoint covering the calls the transport
// makes. Issues created through it are remembered by title.
type fakeTracker struct {
	mu           sync.Mutex
	requests     int
	issuesByName map[string]string // title -> uuid
	comments     map[string][]string
	failStatus   int // when nonzero, every request returns this status
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		issuesByName: map[string]string{},
		comments:     map[string][]string{},
	}
}

func (f *fakeTracker) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests++
		w.Header().Set("Content-Type", "application/json")

		if f.failStatus != 0 {
			w.WriteHeader(f.failStatus)
			return
		}

		var req struct {
			Query     string                 `json:"query"`
			Variables map[string]interface{} `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		switch {
		case strings.Contains(req.Query, "teams(filter"):
			key, _ := req.Variables["key"].(string)
			if key != "ENG" {
				fmt.Fprint(w, `{"data":{"teams":{"nodes":[]}}}`)
				return
			}
			fmt.Fprintf(w, `{"data":{"teams":{"nodes":[{"id":%q,"key":"ENG"}]}}}`, teamUUID)

		case strings.Contains(req.Query, "issueCreate"):
			input := req.Variables["input"].(map[string]interface{})
			title := input["title"].(string)
			id := createdIssue
			if title == AgentCommsTitle {
				id = fallbackIssue
			}
			f.issuesByName[title] = id
			fmt.Fprintf(w, `{"data":{"issueCreate":{"success":true,"issue":{"id":%q}}}}`, id)

		case strings.Contains(req.Query, "commentCreate"):
			input := req.Variables["input"].(map[string]interface{})
			issueID := input["issueId"].(string)
			body := input["body"].(string)
			f.comments[issueID] = append(f.comments[issueID], body)
			fmt.Fprintf(w, `{"data":{"commentCreate":{"success":true,"comment":{"id":"cmt-%d"}}}}`, len(f.comments[issueID]))

		case strings.Contains(req.Query, "issues(filter"):
			title, _ := req.Variables["title"].(string)
			if id, ok := f.issuesByName[title]; ok {
				fmt.Fprintf(w, `{"data":{"issues":{"nodes":[{"id":%q,"title":%q}]}}}`, id, title)
				return
			}
			fmt.Fprint(w, `{"data":{"issues":{"nodes":[]}}}`)

		case strings.Contains(req.Query, "comments"):
			id, _ := req.Variables["id"].(string)
			nodes := make([]string, 0, len(f.comments[id]))
			for i, body := range f.comments[id] {
				b, _ := json.Marshal(body)
				nodes = append(nodes, fmt.Sprintf(`{"id":"cmt-%d","body":%s}`, i+1, b))
			}
			fmt.Fprintf(w, `{"data":{"issue":{"comments":{"nodes":[%s]}}}}`, strings.Join(nodes, ","))

		case strings.Contains(req.Query, "issue(id"):
			id, _ := req.Variables["id"].(string)
			if id == "ENG-42" {
				fmt.Fprintf(w, `{"data":{"issue":{"id":%q}}}`, eng42UUID)
				return
			}
			fmt.Fprint(w, `{"data":{"issue":null}}`)

		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}
}

func (f *fakeTracker) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func newTestTracker(t *testing.T, server *httptest.Server, mutate func(*config.LinearConfig)) *Tracker {
	t.Helper()
	cfg := &config.Config{
		Identity:  config.Identity{Owner: "stefan", InstanceID: "stefan-hq-primary"},
		Transport: config.TransportLinear,
		Linear: &config.LinearConfig{
			APIKey:          "lin_test",
			DefaultTeam:     "ENG",
			Teams:           []config.LinearTeam{{Key: "ENG"}},
			ProjectMappings: map[string]string{"hq-cloud": "proj-cloud"},
			APIBaseURL:      server.URL,
		},
		Settings: config.Settings{ChannelCacheTTLSeconds: 300},
	}
	if mutate != nil {
		mutate(cfg.Linear)
	}
	tr, err := New(cfg, logging.New(testWriter{t}, false), nil)
	require.NoError(t, err)
	return tr
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func TestResolveChannel_ExplicitUUIDPassthrough(t *testing.T) {
	fake := newFakeTracker()
	server := httptest.NewServer(fake.handler())
	defer server.Close()
	tr := newTestTracker(t, server, nil)

	ep, err := tr.ResolveChannel(context.Background(), "alex", "", eng42UUID)
	require.NoError(t, err)
	assert.Equal(t, eng42UUID, ep.ChannelID)
	assert.Equal(t, 0, fake.requestCount())
}

func TestResolveChannel_ExplicitIdentifierLookupCached(t *testing.T) {
	fake := newFakeTracker()
	server := httptest.NewServer(fake.handler())
	defer server.Close()
	tr := newTestTracker(t, server, nil)

	ep, err := tr.ResolveChannel(context.Background(), "alex", "", "ENG-42")
	require.NoError(t, err)
	assert.Equal(t, eng42UUID, ep.ChannelID)
	assert.Equal(t, 1, fake.requestCount())

	// Second resolve hits the identifier cache.
	ep, err = tr.ResolveChannel(context.Background(), "alex", "", "ENG-42")
	require.NoError(t, err)
	assert.Equal(t, eng42UUID, ep.ChannelID)
	assert.Equal(t, 1, fake.requestCount())
}

func TestResolveChannel_ExplicitUnknownIdentifier(t *testing.T) {
	fake := newFakeTracker()
	server := httptest.NewServer(fake.handler())
	defer server.Close()
	tr := newTestTracker(t, server, nil)

	_, err := tr.ResolveChannel(context.Background(), "alex", "", "ENG-9999")
	assert.Equal(t, fault.CodeIssueNotFound, fault.CodeOf(err))

	_, err = tr.ResolveChannel(context.Background(), "alex", "", "not-an-identifier")
	assert.Equal(t, fault.CodeIssueNotFound, fault.CodeOf(err))
}

func TestResolveChannel_ContextCreatesAnchorIssue(t *testing.T) {
	fake := newFakeTracker()
	server := httptest.NewServer(fake.handler())
	defer server.Close()
	tr := newTestTracker(t, server, nil)

	ep, err := tr.ResolveChannel(context.Background(), "alex", "hq-cloud", "")
	require.NoError(t, err)
	assert.Equal(t, createdIssue, ep.ChannelID)
	assert.Equal(t, "[HIAMP] hq-cloud", ep.ChannelName)
	assert.Equal(t, "project-context", ep.Strategy)

	// Search miss then create: team lookup + issue search + create.
	created := fake.requestCount()
	assert.Equal(t, 3, created)

	// Second resolve reuses the cached issue without further API calls.
	ep, err = tr.ResolveChannel(context.Background(), "alex", "hq-cloud", "")
	require.NoError(t, err)
	assert.Equal(t, createdIssue, ep.ChannelID)
	assert.Equal(t, created, fake.requestCount())
}

func TestResolveChannel_ContextFindsExistingIssue(t *testing.T) {
	fake := newFakeTracker()
	fake.issuesByName["[HIAMP] hq-cloud"] = createdIssue
	server := httptest.NewServer(fake.handler())
	defer server.Close()
	tr := newTestTracker(t, server, nil)

	ep, err := tr.ResolveChannel(context.Background(), "alex", "hq-cloud", "")
	require.NoError(t, err)
	assert.Equal(t, createdIssue, ep.ChannelID)
	assert.Equal(t, 2, fake.requestCount()) // team lookup + search, no create
}

func TestResolveChannel_UnmappedContextFallsThrough(t *testing.T) {
	fake := newFakeTracker()
	server := httptest.NewServer(fake.handler())
	defer server.Close()
	tr := newTestTracker(t, server, func(lc *config.LinearConfig) {
		lc.Teams = []config.LinearTeam{{Key: "ENG", AgentCommsIssueID: fallbackIssue}}
	})

	ep, err := tr.ResolveChannel(context.Background(), "alex", "hq-unmapped", "")
	require.NoError(t, err)
	assert.Equal(t, fallbackIssue, ep.ChannelID)
	assert.Equal(t, "agent-comms", ep.Strategy)
	assert.Equal(t, 0, fake.requestCount())
}

func TestResolveChannel_FallbackCreatesAgentComms(t *testing.T) {
	fake := newFakeTracker()
	server := httptest.NewServer(fake.handler())
	defer server.Close()
	tr := newTestTracker(t, server, nil)

	ep, err := tr.ResolveChannel(context.Background(), "alex", "", "")
	require.NoError(t, err)
	assert.Equal(t, fallbackIssue, ep.ChannelID)
	assert.Equal(t, AgentCommsTitle, ep.ChannelName)
}

func TestResolveChannel_UnknownDefaultTeam(t *testing.T) {
	fake := newFakeTracker()
	server := httptest.NewServer(fake.handler())
	defer server.Close()
	tr := newTestTracker(t, server, func(lc *config.LinearConfig) {
		lc.DefaultTeam = "NOPE"
		lc.Teams = []config.LinearTeam{{Key: "NOPE"}}
	})

	_, err := tr.ResolveChannel(context.Background(), "alex", "", "")
	assert.Equal(t, fault.CodeUnknownTeam, fault.CodeOf(err))
}

func TestSendAndFetchReplies(t *testing.T) {
	fake := newFakeTracker()
	server := httptest.NewServer(fake.handler())
	defer server.Close()
	tr := newTestTracker(t, server, nil)

	res, err := tr.Send(context.Background(), eng42UUID, "first comment")
	require.NoError(t, err)
	assert.Equal(t, eng42UUID, res.ThreadRef)

	_, err = tr.SendReply(context.Background(), res.ThreadRef, "second comment")
	require.NoError(t, err)

	replies, err := tr.FetchReplies(context.Background(), eng42UUID)
	require.NoError(t, err)
	assert.Equal(t, []string{"first comment", "second comment"}, replies)
}

func TestQuery_HTTPStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		code   fault.Code
	}{
		{http.StatusTooManyRequests, fault.CodeRateLimited},
		{http.StatusNotFound, fault.CodeIssueNotFound},
		{http.StatusForbidden, fault.CodePermissionDenied},
		{http.StatusInternalServerError, fault.CodeAPIError},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			fake := newFakeTracker()
			fake.failStatus = tc.status
			server := httptest.NewServer(fake.handler())
			defer server.Close()
			tr := newTestTracker(t, server, nil)

			_, err := tr.Send(context.Background(), eng42UUID, "text")
			assert.Equal(t, tc.code, fault.CodeOf(err))
		})
	}
}

func TestQuery_GraphQLErrorsSurfaceAsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"errors":[{"message":"something exploded"}]}`)
	}))
	defer server.Close()
	tr := newTestTracker(t, server, nil)

	_, err := tr.Send(context.Background(), eng42UUID, "text")
	assert.Equal(t, fault.CodeAPIError, fault.CodeOf(err))
}

func TestQuery_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // immediately, so requests fail to connect
	tr := newTestTracker(t, server, nil)

	_, err := tr.Send(context.Background(), eng42UUID, "text")
	assert.Equal(t, fault.CodeNetworkError, fault.CodeOf(err))
}
