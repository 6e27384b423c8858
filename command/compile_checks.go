package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[BeginAuthorizationMessage] = (*BeginAuthorizationCommand)(nil)
	_ gocmd.Commander[HandleCallbackMessage]     = (*HandleCallbackCommand)(nil)
	_ gocmd.Commander[RefreshMessage]            = (*RefreshCommand)(nil)
	_ gocmd.Commander[CheckHealthMessage]        = (*CheckHealthCommand)(nil)
	_ gocmd.Commander[RevokeMessage]             = (*RevokeCommand)(nil)
)
