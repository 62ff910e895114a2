package errors

import (
	stderrors "errors"

	"github.com/gwtt/dagachi/internal/platform/errors/i18n"
)

// GRPCStatus renders err as a gRPC status carrying a message localized for
// locale. Errors outside the domain taxonomy become Internal.
func GRPCStatus(err error, locale string) error {
	if err == nil {
		return nil
	}
	var domainErr *Error
	if !stderrors.As(err, &domainErr) {
		domainErr = Wrap(CodeUnknown, err.Error(), err)
	}
	catalog := i18n.GetCatalog(locale)
	return domainErr.ToGRPCStatus(catalog.Locale(), catalog.Format(string(domainErr.Code), domainErr.Metadata))
}
