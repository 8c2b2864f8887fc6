package api

import "log/slog"

// ErrAttr builds the slog.Attr this module uses consistently for
// wrapped errors, since the logging helper that shipped it in the
// original tree lived in a package this module does not carry over.
func ErrAttr(err error) slog.Attr {
	return slog.Any("err", err)
}
