package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/tender-response-system/internal/llm"
	"github.com/fyerfyer/tender-response-system/internal/models"
)

// llmRequirementItem 大模型返回的单条需求
type llmRequirementItem struct {
	Text        string `json:"text"`
	Category    string `json:"category"`
	SubCategory string `json:"subcategory"`
}

// extractWithLLM 非英语文本的大模型提取路径
// 任何失败都退化为空结果，由调用方决定是否带着零条需求继续
func (e *Extractor) extractWithLLM(ctx context.Context, text string, lang whatlanggo.Lang) ([]ExtractedRequirement, error) {
	langCode := whatlanggo.LangToString(lang)

	if e.llm == nil {
		e.logger.WithField("language", langCode).Warn("non-English document and no LLM client configured, returning zero requirements")
		return []ExtractedRequirement{}, nil
	}

	sample := text
	if len(sample) > llmSampleSize {
		sample = sample[:llmSampleSize]
	}

	prompt := fmt.Sprintf(`You are a tender document analyst. Extract the requirement statements from the following tender document text.

Return ONLY a JSON array with at most %d items, ranked by importance. Each item must have this shape:
{"text": "<requirement statement in the original language>", "category": "<ELIGIBILITY|TECHNICAL|COMPLIANCE>", "subcategory": "<short label or empty string>"}

DOCUMENT TEXT:
%s

JSON ARRAY:`, llmMaxItems, sample)

	resp, err := e.llm.Generate(ctx, prompt, llm.WithGenerateTemperature(0.2))
	if err != nil {
		e.logger.WithError(err).WithField("language", langCode).Warn("LLM requirement extraction failed, returning zero requirements")
		return []ExtractedRequirement{}, nil
	}

	items, err := parseLLMRequirements(resp.Text)
	if err != nil {
		e.logger.WithError(err).Warn("failed to parse LLM requirement extraction output, returning zero requirements")
		return []ExtractedRequirement{}, nil
	}

	requirements := make([]ExtractedRequirement, 0, len(items))
	for _, item := range items {
		itemText := strings.TrimSpace(item.Text)
		if itemText == "" {
			continue
		}
		if len(requirements) >= llmMaxItems {
			break
		}
		requirements = append(requirements, ExtractedRequirement{
			Text:        itemText,
			Category:    parseCategory(item.Category),
			SubCategory: strings.TrimSpace(item.SubCategory),
			Confidence:  llmConfidence,
			Order:       len(requirements),
		})
	}

	e.logger.WithFields(logrus.Fields{
		"language":          langCode,
		"requirement_count": len(requirements),
	}).Info("requirements extracted via LLM")

	return requirements, nil
}

// parseLLMRequirements 解析大模型输出中的JSON数组
// 模型偶尔会加代码围栏或说明文字，截取首尾方括号之间的部分
func parseLLMRequirements(output string) ([]llmRequirementItem, error) {
	start := strings.Index(output, "[")
	end := strings.LastIndex(output, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array found in LLM output")
	}

	var items []llmRequirementItem
	if err := json.Unmarshal([]byte(output[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM output: %w", err)
	}
	return items, nil
}

// parseCategory 将大模型给出的类别名映射到枚举，未知值归为技术类
func parseCategory(raw string) models.RequirementCategory {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(models.CategoryEligibility):
		return models.CategoryEligibility
	case string(models.CategoryCompliance):
		return models.CategoryCompliance
	default:
		return models.CategoryTechnical
	}
}
