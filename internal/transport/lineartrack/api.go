package lineartrack

import (
	"context"

	"github.com/hiamp/hq/internal/fault"
	"github.com/hiamp/hq/internal/transport"
)

// graphqlRequest is the wire shape of every tracker API call.
type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

// query runs a GraphQL request and decodes `data` into out.
func (t *Tracker) query(ctx context.Context, q string, vars map[string]interface{}, out interface{}) error {
	var envelope struct {
		Errors []graphqlError `json:"errors"`
	}
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(graphqlRequest{Query: q, Variables: vars}).
		SetResult(out).
		SetError(&envelope).
		ForceContentType("application/json").
		Post("")
	if err != nil {
		return fault.Wrap(fault.CodeNetworkError, "tracker api request failed", err)
	}
	if len(envelope.Errors) > 0 {
		return fault.Newf(fault.CodeAPIError, "tracker api error: %s", envelope.Errors[0].Message)
	}
	if resp.StatusCode() >= 400 {
		return fault.Newf(transport.MapHTTPStatus(resp.StatusCode()), "tracker api returned status %d", resp.StatusCode())
	}
	return nil
}

// teamUUID resolves a team key to its UUID, cached.
func (t *Tracker) teamUUID(ctx context.Context, key string) (string, error) {
	if id, ok := t.teams.Get(key); ok {
		return id, nil
	}
	var out struct {
		Data struct {
			Teams struct {
				Nodes []struct {
					ID  string `json:"id"`
					Key string `json:"key"`
				} `json:"nodes"`
			} `json:"teams"`
		} `json:"data"`
	}
	q := `query($key: String!) { teams(filter: {key: {eq: $key}}) { nodes { id key } } }`
	if err := t.query(ctx, q, map[string]interface{}{"key": key}, &out); err != nil {
		return "", err
	}
	if len(out.Data.Teams.Nodes) == 0 {
		return "", fault.Newf(fault.CodeUnknownTeam, "team %q not found", key)
	}
	id := out.Data.Teams.Nodes[0].ID
	t.teams.Put(key, id)
	return id, nil
}

// issueByIdentifier looks up an issue's UUID from its KEY-N identifier.
func (t *Tracker) issueByIdentifier(ctx context.Context, identifier string) (string, error) {
	var out struct {
		Data struct {
			Issue *struct {
				ID string `json:"id"`
			} `json:"issue"`
		} `json:"data"`
	}
	q := `query($id: String!) { issue(id: $id) { id } }`
	if err := t.query(ctx, q, map[string]interface{}{"id": identifier}, &out); err != nil {
		if fault.IsCode(err, fault.CodeAPIError) {
			return "", fault.Newf(fault.CodeIssueNotFound, "issue %s not found", identifier)
		}
		return "", err
	}
	if out.Data.Issue == nil {
		return "", fault.Newf(fault.CodeIssueNotFound, "issue %s not found", identifier)
	}
	return out.Data.Issue.ID, nil
}

// findIssueByTitle searches a team for an issue with the exact title.
// Returns "" when no issue matches.
func (t *Tracker) findIssueByTitle(ctx context.Context, teamID, title string) (string, error) {
	var out struct {
		Data struct {
			Issues struct {
				Nodes []struct {
					ID    string `json:"id"`
					Title string `json:"title"`
				} `json:"nodes"`
			} `json:"issues"`
		} `json:"data"`
	}
	q := `query($teamId: ID!, $title: String!) { issues(filter: {team: {id: {eq: $teamId}}, title: {eq: $title}}) { nodes { id title } } }`
	if err := t.query(ctx, q, map[string]interface{}{"teamId": teamID, "title": title}, &out); err != nil {
		return "", err
	}
	for _, node := range out.Data.Issues.Nodes {
		if node.Title == title {
			return node.ID, nil
		}
	}
	return "", nil
}

// createIssue creates a HIAMP anchor issue; projectID may be empty.
func (t *Tracker) createIssue(ctx context.Context, teamID, projectID, title string) (string, error) {
	input := map[string]interface{}{"teamId": teamID, "title": title}
	if projectID != "" {
		input["projectId"] = projectID
	}
	var out struct {
		Data struct {
			IssueCreate struct {
				Success bool `json:"success"`
				Issue   struct {
					ID string `json:"id"`
				} `json:"issue"`
			} `json:"issueCreate"`
		} `json:"data"`
	}
	q := `mutation($input: IssueCreateInput!) { issueCreate(input: $input) { success issue { id } } }`
	if err := t.query(ctx, q, map[string]interface{}{"input": input}, &out); err != nil {
		return "", err
	}
	if !out.Data.IssueCreate.Success || out.Data.IssueCreate.Issue.ID == "" {
		return "", fault.Newf(fault.CodeIssueCreateFailed, "failed to create issue %q", title)
	}
	return out.Data.IssueCreate.Issue.ID, nil
}

// createComment posts text as a comment on the issue.
func (t *Tracker) createComment(ctx context.Context, issueID, body string) (string, error) {
	var out struct {
		Data struct {
			CommentCreate struct {
				Success bool `json:"success"`
				Comment struct {
					ID string `json:"id"`
				} `json:"comment"`
			} `json:"commentCreate"`
		} `json:"data"`
	}
	q := `mutation($input: CommentCreateInput!) { commentCreate(input: $input) { success comment { id } } }`
	vars := map[string]interface{}{"input": map[string]interface{}{"issueId": issueID, "body": body}}
	if err := t.query(ctx, q, vars, &out); err != nil {
		return "", err
	}
	if !out.Data.CommentCreate.Success {
		return "", fault.New(fault.CodeAPIError, "comment creation was not accepted")
	}
	return out.Data.CommentCreate.Comment.ID, nil
}

type comment struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// listComments returns the comments on an issue in creation order.
func (t *Tracker) listComments(ctx context.Context, issueID string) ([]comment, error) {
	var out struct {
		Data struct {
			Issue *struct {
				Comments struct {
					Nodes []comment `json:"nodes"`
				} `json:"comments"`
			} `json:"issue"`
		} `json:"data"`
	}
	q := `query($id: String!) { issue(id: $id) { comments { nodes { id body } } } }`
	if err := t.query(ctx, q, map[string]interface{}{"id": issueID}, &out); err != nil {
		return nil, err
	}
	if out.Data.Issue == nil {
		return nil, fault.Newf(fault.CodeIssueNotFound, "issue %s not found", issueID)
	}
	return out.Data.Issue.Comments.Nodes, nil
}
