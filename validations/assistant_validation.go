package validations

import (
	"context"

	assistantDomain "github.com/AzielCF/az-inbox/assistant/domain"
	pkgError "github.com/AzielCF/az-inbox/pkg/error"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

func ValidateProcessRequest(ctx context.Context, request assistantDomain.ProcessRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.MessageText, validation.Required, validation.Length(1, 20000)),
		validation.Field(&request.AssistantID, validation.Required),
		validation.Field(&request.InstanceID, validation.Required),
		validation.Field(&request.ChatID, validation.Required),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}
