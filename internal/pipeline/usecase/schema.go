package usecase

import (
	"context"
	"strings"

	"github.com/samber/lo"
	"github.com/shandysiswandi/schemabus/internal/pkg/goerror"
	"github.com/shandysiswandi/schemabus/internal/pkg/schema"
)

type CreateSchemaInput struct {
	ID string `validate:"required,resource_id"`
	// Definition is either the compact form "Name:string,Code:int64?" or a
	// protobuf message definition.
	Definition string   `validate:"required"`
	Encodings  []string `validate:"omitempty,dive,encoding"`
}

func (s *Usecase) CreateSchema(ctx context.Context, in CreateSchemaInput) (schema.Schema, error) {
	ctx, span := s.startSpan(ctx, "CreateSchema")
	defer span.End()

	in.ID = strings.TrimSpace(in.ID)
	in.Definition = strings.TrimSpace(in.Definition)

	if err := s.validator.Validate(in); err != nil {
		return schema.Schema{}, goerror.NewInvalidInput(err)
	}

	encs := lo.Map(in.Encodings, func(e string, _ int) schema.Encoding {
		enc, _ := schema.ParseEncoding(e)
		return enc
	})

	sc, err := parseDefinition(in.ID, in.Definition, lo.Uniq(encs))
	if err != nil {
		return schema.Schema{}, goerror.NewInvalidInput(err, "definition", err.Error())
	}

	if err := s.broker.CreateSchema(ctx, sc); err != nil {
		return schema.Schema{}, s.brokerError(ctx, span, "broker create schema", err)
	}
	s.rememberSchema(sc)

	return sc, nil
}

func (s *Usecase) GetSchema(ctx context.Context, id string) (schema.Schema, error) {
	ctx, span := s.startSpan(ctx, "GetSchema")
	defer span.End()

	sc, err := s.lookupSchema(ctx, strings.TrimSpace(id))
	if err != nil {
		return schema.Schema{}, s.brokerError(ctx, span, "broker get schema", err)
	}

	return sc, nil
}

func parseDefinition(id, definition string, encs []schema.Encoding) (schema.Schema, error) {
	if strings.Contains(definition, "message") && strings.Contains(definition, "{") {
		return schema.ParseProtoDefinition(id, definition, encs...)
	}
	return schema.ParseDefinition(id, definition, encs...)
}
