package extractor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/tender-response-system/internal/document"
	"github.com/fyerfyer/tender-response-system/internal/llm"
	"github.com/fyerfyer/tender-response-system/internal/models"
)

// cannedLLM 返回固定文本的测试客户端，并记录是否被调用
type cannedLLM struct {
	reply  string
	err    error
	called bool
}

func (c *cannedLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (*llm.Response, error) {
	c.called = true
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Response{Text: c.reply, ModelName: "canned"}, nil
}

func (c *cannedLLM) Chat(ctx context.Context, messages []llm.Message, opts ...llm.ChatOption) (*llm.Response, error) {
	return nil, fmt.Errorf("not implemented")
}

func (c *cannedLLM) Name() string {
	return "canned"
}

// TestExtractEligibilityRequirement 单句资格类需求完整提取
func TestExtractEligibilityRequirement(t *testing.T) {
	e := New()

	text := "The vendor must have ISO 9001 certification and minimum 5 years of experience in similar projects."
	reqs, err := e.Extract(context.Background(), text, nil)
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	assert.Equal(t, models.CategoryEligibility, reqs[0].Category)
	assert.Greater(t, reqs[0].Confidence, 0.0)
	assert.Equal(t, 0, reqs[0].Order)
	assert.Equal(t, "Certifications", reqs[0].SubCategory)
}

// TestExtractOrderMonotonic 提取顺序从0开始严格递增
func TestExtractOrderMonotonic(t *testing.T) {
	e := New()

	text := "The bidder must have a valid registration with the state authority. " +
		"The system shall provide role based access control for all users. " +
		"The vendor shall submit a declaration stating there is no conflict of interest."
	reqs, err := e.Extract(context.Background(), text, nil)
	require.NoError(t, err)
	require.Len(t, reqs, 3)

	for i, req := range reqs {
		assert.Equal(t, i, req.Order)
	}
}

// TestExtractSkipsShortAndDuplicate 过短和重复的句子被跳过
func TestExtractSkipsShortAndDuplicate(t *testing.T) {
	e := New()

	text := "Must comply. The solution must provide automated nightly backups of all data. " +
		"The solution must provide automated nightly backups of all data."
	reqs, err := e.Extract(context.Background(), text, nil)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Text, "nightly backups")
}

// TestExtractEmptyText 空文本返回空结果而不是错误
func TestExtractEmptyText(t *testing.T) {
	e := New()

	reqs, err := e.Extract(context.Background(), "   ", nil)
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

// TestExtractNonRequirementText 普通叙述文本不产生需求
func TestExtractNonRequirementText(t *testing.T) {
	e := New()

	text := "The tender was published last month. Several vendors attended the pre-bid meeting in the city hall."
	reqs, err := e.Extract(context.Background(), text, nil)
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

// TestExtractEmptyRegexFallsBackToLLM 规则提取零结果时转投大模型
func TestExtractEmptyRegexFallsBackToLLM(t *testing.T) {
	client := &cannedLLM{
		reply: `[{"text": "The winning bidder takes over facility maintenance from day one.", "category": "TECHNICAL", "subcategory": ""}]`,
	}
	e := New(WithLLMClient(client))

	// 普通叙述文本，没有任何需求特征词
	text := "The tender was published last month. Several vendors attended the pre-bid meeting in the city hall."
	reqs, err := e.Extract(context.Background(), text, nil)
	require.NoError(t, err)

	assert.True(t, client.called)
	require.Len(t, reqs, 1)
	assert.Equal(t, models.CategoryTechnical, reqs[0].Category)
	assert.Equal(t, 0.9, reqs[0].Confidence)
}

// TestExtractEmptyRegexLLMFailure 兜底的大模型失败时带着零条需求继续
func TestExtractEmptyRegexLLMFailure(t *testing.T) {
	client := &cannedLLM{err: fmt.Errorf("model unavailable")}
	e := New(WithLLMClient(client))

	text := "The tender was published last month. Several vendors attended the pre-bid meeting in the city hall."
	reqs, err := e.Extract(context.Background(), text, nil)
	require.NoError(t, err)

	assert.True(t, client.called)
	assert.Empty(t, reqs)
}

// TestExtractRegexHitSkipsLLM 规则提取有结果时不调用大模型
func TestExtractRegexHitSkipsLLM(t *testing.T) {
	client := &cannedLLM{reply: "[]"}
	e := New(WithLLMClient(client))

	text := "The vendor must have ISO 9001 certification and minimum 5 years of experience in similar projects."
	reqs, err := e.Extract(context.Background(), text, nil)
	require.NoError(t, err)

	assert.False(t, client.called)
	require.Len(t, reqs, 1)
}

// TestExtractItemCeiling 提取条数不超过上限
func TestExtractItemCeiling(t *testing.T) {
	e := New(WithMaxItems(5))

	text := ""
	for i := 0; i < 20; i++ {
		text += fmt.Sprintf("The system shall provide reporting feature number %d for the operations team. ", i)
	}

	reqs, err := e.Extract(context.Background(), text, nil)
	require.NoError(t, err)
	assert.Len(t, reqs, 5)
}

// TestExtractPageLookup 能从页面内容中找回页码
func TestExtractPageLookup(t *testing.T) {
	e := New()

	sentence := "The platform must support integration with the national payment gateway."
	pages := []document.Page{
		{PageNum: 1, Content: "General introduction and background information about the project."},
		{PageNum: 2, Content: "Scope of work. " + sentence + " Additional details follow."},
	}

	reqs, err := e.Extract(context.Background(), sentence, pages)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.NotNil(t, reqs[0].PageNumber)
	assert.Equal(t, 2, *reqs[0].PageNumber)
}

// TestSplitSentencesAbbreviations 缩写词的句点不切分句子
func TestSplitSentencesAbbreviations(t *testing.T) {
	sentences := splitSentences("Dr. Smith will review the bid. The vendor shall provide samples.")
	require.Len(t, sentences, 2)
	assert.Equal(t, "Dr. Smith will review the bid.", sentences[0])
}

// TestSplitSentencesListMarkers 编号列表按条目切分
func TestSplitSentencesListMarkers(t *testing.T) {
	text := "The bidder must meet the following criteria:\n1. Valid trade license issued by the authority\n2. Minimum turnover of 10 million"
	sentences := splitSentences(text)
	require.Len(t, sentences, 3)
	assert.Equal(t, "Valid trade license issued by the authority", sentences[1])
}

// TestCategorizeTieDefaultsToTechnical 平局时归为技术类
func TestCategorizeTieDefaultsToTechnical(t *testing.T) {
	// 一条资格特征（valid registration）加一条合规特征（comply with）
	category, confidence, _ := categorize("Bidders with valid registration papers comply with the norms.")
	assert.Equal(t, models.CategoryTechnical, category)
	assert.InDelta(t, 0.5, confidence, 1e-6)
}

// TestCategorizeNoHits 只命中通用特征时默认技术类
func TestCategorizeNoHits(t *testing.T) {
	category, confidence, subCategory := categorize("All submissions will be acknowledged by the office.")
	assert.Equal(t, models.CategoryTechnical, category)
	assert.Equal(t, 0.5, confidence)
	assert.Empty(t, subCategory)
}

// TestCategorizeConfidenceCapped 置信度不达到1.0
func TestCategorizeConfidenceCapped(t *testing.T) {
	_, confidence, _ := categorize("The vendor must have ISO 9001 certification and minimum 5 years of experience in similar projects.")
	assert.LessOrEqual(t, confidence, 0.99)
	assert.Greater(t, confidence, 0.0)
}

// TestParseLLMRequirements 解析带代码围栏的模型输出
func TestParseLLMRequirements(t *testing.T) {
	output := "Here are the requirements:\n```json\n[{\"text\": \"El proveedor debe tener cinco años de experiencia.\", \"category\": \"ELIGIBILITY\", \"subcategory\": \"Experience\"}]\n```"

	items, err := parseLLMRequirements(output)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ELIGIBILITY", items[0].Category)

	_, err = parseLLMRequirements("no json here")
	assert.Error(t, err)
}

// TestParseCategory 未知类别名归为技术类
func TestParseCategory(t *testing.T) {
	assert.Equal(t, models.CategoryEligibility, parseCategory("eligibility"))
	assert.Equal(t, models.CategoryCompliance, parseCategory(" COMPLIANCE "))
	assert.Equal(t, models.CategoryTechnical, parseCategory("something else"))
}
