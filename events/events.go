// Package events turns raw GitHub webhook payloads into typed events.
//
// Event is a closed set: only the types declared here implement it.
package events

import (
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
)

const (
	TypePush              = "push"
	TypePullRequest       = "pull_request"
	TypeIssues            = "issues"
	TypeIssueComment      = "issue_comment"
	TypePullRequestReview = "pull_request_review"
)

// Event is implemented by every supported GitHub event shape.
type Event interface {
	EventType() string
	Repo() Repository
	// Summary is the normalized payload published on the domain bus.
	Summary() map[string]any
	isEvent()
}

type Account struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Type  string `json:"type"`
}

type Repository struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	FullName      string  `json:"full_name"`
	Owner         Account `json:"owner"`
	Private       bool    `json:"private"`
	DefaultBranch string  `json:"default_branch"`
	HTMLURL       string  `json:"html_url"`
}

func (r Repository) Ref() core.RepositoryRef {
	owner, name, ok := strings.Cut(r.FullName, "/")
	if !ok {
		return core.RepositoryRef{Owner: r.Owner.Login, Name: r.Name}
	}
	return core.RepositoryRef{Owner: owner, Name: name}
}

type CommitAuthor struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type Commit struct {
	ID        string       `json:"id"`
	Message   string       `json:"message"`
	Timestamp string       `json:"timestamp"`
	URL       string       `json:"url"`
	Author    CommitAuthor `json:"author"`
	Added     []string     `json:"added"`
	Removed   []string     `json:"removed"`
	Modified  []string     `json:"modified"`
}

type BranchRef struct {
	Label string `json:"label"`
	Ref   string `json:"ref"`
	SHA   string `json:"sha"`
}

type Label struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type PullRequest struct {
	ID       int64      `json:"id"`
	Number   int        `json:"number"`
	State    string     `json:"state"`
	Title    string     `json:"title"`
	Body     string     `json:"body"`
	HTMLURL  string     `json:"html_url"`
	Draft    bool       `json:"draft"`
	Merged   bool       `json:"merged"`
	MergedAt *time.Time `json:"merged_at"`
	User     Account    `json:"user"`
	Head     BranchRef  `json:"head"`
	Base     BranchRef  `json:"base"`
	Labels   []Label    `json:"labels"`
}

type Issue struct {
	ID      int64   `json:"id"`
	Number  int     `json:"number"`
	State   string  `json:"state"`
	Title   string  `json:"title"`
	Body    string  `json:"body"`
	HTMLURL string  `json:"html_url"`
	User    Account `json:"user"`
	Labels  []Label `json:"labels"`
}

type Comment struct {
	ID      int64   `json:"id"`
	Body    string  `json:"body"`
	HTMLURL string  `json:"html_url"`
	User    Account `json:"user"`
}

type Review struct {
	ID          int64      `json:"id"`
	State       string     `json:"state"`
	Body        string     `json:"body"`
	CommitID    string     `json:"commit_id"`
	HTMLURL     string     `json:"html_url"`
	User        Account    `json:"user"`
	SubmittedAt *time.Time `json:"submitted_at"`
}

type PushEvent struct {
	Ref        string       `json:"ref"`
	Before     string       `json:"before"`
	After      string       `json:"after"`
	Created    bool         `json:"created"`
	Deleted    bool         `json:"deleted"`
	Forced     bool         `json:"forced"`
	Commits    []Commit     `json:"commits"`
	HeadCommit *Commit      `json:"head_commit"`
	Pusher     CommitAuthor `json:"pusher"`
	Repository Repository   `json:"repository"`
	Sender     Account      `json:"sender"`
}

func (PushEvent) EventType() string  { return TypePush }
func (e PushEvent) Repo() Repository { return e.Repository }
func (PushEvent) isEvent()           {}

// Branch strips refs/heads/ from Ref.
func (e PushEvent) Branch() string {
	return strings.TrimPrefix(e.Ref, "refs/heads/")
}

func (e PushEvent) Summary() map[string]any {
	commits := make([]map[string]any, 0, len(e.Commits))
	for _, commit := range e.Commits {
		commits = append(commits, map[string]any{
			"id":      commit.ID,
			"message": commit.Message,
			"author":  commit.Author.Name,
		})
	}
	return map[string]any{
		"repository": e.Repository.FullName,
		"ref":        e.Ref,
		"before":     e.Before,
		"after":      e.After,
		"forced":     e.Forced,
		"commits":    commits,
		"sender":     e.Sender.Login,
	}
}

type PullRequestEvent struct {
	Action      string      `json:"action"`
	Number      int         `json:"number"`
	PullRequest PullRequest `json:"pull_request"`
	Repository  Repository  `json:"repository"`
	Sender      Account     `json:"sender"`
}

func (PullRequestEvent) EventType() string  { return TypePullRequest }
func (e PullRequestEvent) Repo() Repository { return e.Repository }
func (PullRequestEvent) isEvent()           {}

func (e PullRequestEvent) Summary() map[string]any {
	return map[string]any{
		"repository": e.Repository.FullName,
		"action":     e.Action,
		"number":     e.Number,
		"title":      e.PullRequest.Title,
		"state":      e.PullRequest.State,
		"merged":     e.PullRequest.Merged,
		"head_ref":   e.PullRequest.Head.Ref,
		"head_sha":   e.PullRequest.Head.SHA,
		"base_ref":   e.PullRequest.Base.Ref,
		"url":        e.PullRequest.HTMLURL,
		"sender":     e.Sender.Login,
	}
}

type IssuesEvent struct {
	Action     string     `json:"action"`
	Issue      Issue      `json:"issue"`
	Repository Repository `json:"repository"`
	Sender     Account    `json:"sender"`
}

func (IssuesEvent) EventType() string  { return TypeIssues }
func (e IssuesEvent) Repo() Repository { return e.Repository }
func (IssuesEvent) isEvent()           {}

func (e IssuesEvent) Summary() map[string]any {
	return map[string]any{
		"repository": e.Repository.FullName,
		"action":     e.Action,
		"number":     e.Issue.Number,
		"title":      e.Issue.Title,
		"state":      e.Issue.State,
		"url":        e.Issue.HTMLURL,
		"sender":     e.Sender.Login,
	}
}

type IssueCommentEvent struct {
	Action     string     `json:"action"`
	Issue      Issue      `json:"issue"`
	Comment    Comment    `json:"comment"`
	Repository Repository `json:"repository"`
	Sender     Account    `json:"sender"`
}

func (IssueCommentEvent) EventType() string  { return TypeIssueComment }
func (e IssueCommentEvent) Repo() Repository { return e.Repository }
func (IssueCommentEvent) isEvent()           {}

func (e IssueCommentEvent) Summary() map[string]any {
	return map[string]any{
		"repository": e.Repository.FullName,
		"action":     e.Action,
		"number":     e.Issue.Number,
		"comment_id": e.Comment.ID,
		"body":       e.Comment.Body,
		"url":        e.Comment.HTMLURL,
		"sender":     e.Sender.Login,
	}
}

type PullRequestReviewEvent struct {
	Action      string      `json:"action"`
	Review      Review      `json:"review"`
	PullRequest PullRequest `json:"pull_request"`
	Repository  Repository  `json:"repository"`
	Sender      Account     `json:"sender"`
}

func (PullRequestReviewEvent) EventType() string  { return TypePullRequestReview }
func (e PullRequestReviewEvent) Repo() Repository { return e.Repository }
func (PullRequestReviewEvent) isEvent()           {}

func (e PullRequestReviewEvent) Summary() map[string]any {
	return map[string]any{
		"repository": e.Repository.FullName,
		"action":     e.Action,
		"number":     e.PullRequest.Number,
		"review_id":  e.Review.ID,
		"state":      e.Review.State,
		"commit_id":  e.Review.CommitID,
		"sender":     e.Sender.Login,
	}
}

var (
	_ Event = PushEvent{}
	_ Event = PullRequestEvent{}
	_ Event = IssuesEvent{}
	_ Event = IssueCommentEvent{}
	_ Event = PullRequestReviewEvent{}
)
