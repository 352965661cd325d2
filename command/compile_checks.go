package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[IngestWebhookMessage]          = (*IngestWebhookCommand)(nil)
	_ gocmd.Commander[CreatePullRequestMessage]      = (*CreatePullRequestCommand)(nil)
	_ gocmd.Commander[MergePullRequestMessage]       = (*MergePullRequestCommand)(nil)
	_ gocmd.Commander[ClosePullRequestMessage]       = (*ClosePullRequestCommand)(nil)
	_ gocmd.Commander[CreateSubscriptionMessage]     = (*CreateSubscriptionCommand)(nil)
	_ gocmd.Commander[UpdateSubscriptionMessage]     = (*UpdateSubscriptionCommand)(nil)
	_ gocmd.Commander[DeactivateSubscriptionMessage] = (*DeactivateSubscriptionCommand)(nil)
	_ gocmd.Commander[ResetCircuitMessage]           = (*ResetCircuitCommand)(nil)
	_ gocmd.Commander[CompleteGitHubOAuthMessage]    = (*CompleteGitHubOAuthCommand)(nil)
	_ gocmd.Commander[DisconnectGitHubMessage]       = (*DisconnectGitHubCommand)(nil)
)
