package models

import "errors"

var (
	// ErrDocumentNotFound 文档不存在错误
	ErrDocumentNotFound = errors.New("document not found")

	// ErrRequirementNotFound 需求条目不存在错误
	ErrRequirementNotFound = errors.New("requirement not found")

	// ErrKBItemNotFound 知识库条目不存在错误
	ErrKBItemNotFound = errors.New("knowledge base item not found")

	// ErrResponseNotFound 应答记录不存在错误
	ErrResponseNotFound = errors.New("response not found")

	// ErrInvalidStatusTransition 非法的文档状态转换错误
	ErrInvalidStatusTransition = errors.New("invalid document status transition")
)
