// Package autoload registers every built-in channel factory.
package autoload

import (
	_ "lexy/pkg/channels/httpapi"
	_ "lexy/pkg/channels/telegram"
	_ "lexy/pkg/channels/web"
)
