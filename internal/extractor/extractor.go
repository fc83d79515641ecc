package extractor

import (
	"context"
	"regexp"
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/tender-response-system/internal/document"
	"github.com/fyerfyer/tender-response-system/internal/llm"
	"github.com/fyerfyer/tender-response-system/internal/models"
)

// ExtractedRequirement 从文档文本中提取的单条需求
type ExtractedRequirement struct {
	Text        string                     // 需求原文
	Category    models.RequirementCategory // 类别
	SubCategory string                     // 子类别，可为空
	Confidence  float64                    // 分类置信度（0-1）
	PageNumber  *int                       // 页码，未知时为nil
	Order       int                        // 提取顺序，从0开始
}

// eligibilityPatterns 资格类需求特征
var eligibilityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)must have.*(?:certification|certificate|license)`),
	regexp.MustCompile(`(?i)minimum.*(?:\d+\s*)?years?.*experience`),
	regexp.MustCompile(`(?i)registered.*(?:company|firm|entity)`),
	regexp.MustCompile(`(?i)turnover.*(?:crore|lakh|million|billion)`),
	regexp.MustCompile(`(?i)iso\s*\d+.*certified`),
	regexp.MustCompile(`(?i)annual.*revenue`),
	regexp.MustCompile(`(?i)net\s*worth`),
	regexp.MustCompile(`(?i)valid.*registration`),
	regexp.MustCompile(`(?i)(?:should|must|shall)\s+be\s+(?:a\s+)?registered`),
	regexp.MustCompile(`(?i)empaneled\s+with`),
	regexp.MustCompile(`(?i)financial.*(?:standing|capability|capacity)`),
	regexp.MustCompile(`(?i)past.*(?:performance|experience)`),
	regexp.MustCompile(`(?i)similar.*(?:work|project|contract)`),
}

// technicalPatterns 技术类需求特征
var technicalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:shall|must|should)\s+provide`),
	regexp.MustCompile(`(?i)(?:shall|must|should)\s+implement`),
	regexp.MustCompile(`(?i)system\s+(?:must|shall|should)`),
	regexp.MustCompile(`(?i)technical.*specification`),
	regexp.MustCompile(`(?i)deliverables?.*(?:include|consist)`),
	regexp.MustCompile(`(?i)solution\s+(?:must|shall|should)`),
	regexp.MustCompile(`(?i)(?:hardware|software)\s+requirement`),
	regexp.MustCompile(`(?i)platform\s+(?:must|shall|should)`),
	regexp.MustCompile(`(?i)integration\s+with`),
	regexp.MustCompile(`(?i)support.*(?:24x7|round.*clock)`),
	regexp.MustCompile(`(?i)uptime.*(?:\d+%|\d+\s*percent)`),
	regexp.MustCompile(`(?i)performance.*requirement`),
	regexp.MustCompile(`(?i)scalability`),
	regexp.MustCompile(`(?i)security.*(?:feature|requirement|standard)`),
}

// compliancePatterns 合规类需求特征
var compliancePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)attach.*(?:certificate|document|proof)`),
	regexp.MustCompile(`(?i)provide.*(?:evidence|proof|documentation)`),
	regexp.MustCompile(`(?i)submit.*(?:document|certificate|declaration)`),
	regexp.MustCompile(`(?i)confirm.*compliance`),
	regexp.MustCompile(`(?i)undertaking.*(?:that|stating)`),
	regexp.MustCompile(`(?i)declaration.*(?:that|stating)`),
	regexp.MustCompile(`(?i)affidavit`),
	regexp.MustCompile(`(?i)self.*certification`),
	regexp.MustCompile(`(?i)duly.*signed`),
	regexp.MustCompile(`(?i)notarized`),
	regexp.MustCompile(`(?i)comply\s+with`),
	regexp.MustCompile(`(?i)adherence\s+to`),
	regexp.MustCompile(`(?i)in\s+accordance\s+with`),
}

// requirementIndicators 判定句子是否为需求的通用特征
var requirementIndicators = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:shall|must|should|will|need\s+to|required\s+to)`),
	regexp.MustCompile(`(?i)mandatory`),
	regexp.MustCompile(`(?i)essential`),
	regexp.MustCompile(`(?i)prerequisite`),
	regexp.MustCompile(`(?i)minimum.*requirement`),
	regexp.MustCompile(`(?i)eligibility.*criteria`),
}

var (
	abbreviationPattern = regexp.MustCompile(`\b(Mr|Mrs|Ms|Dr|Prof|Inc|Ltd|Co|etc)\.\s`)
	sentenceBoundary    = regexp.MustCompile(`[.!?]\s+`)
	listMarkerPattern   = regexp.MustCompile(`\n\s*(?:\d+[.)]\s*|•\s*|-\s*)`)
)

const (
	// minSentenceLength 短于此长度的句子不视为需求
	minSentenceLength = 20
	// defaultMaxItems 单个文档提取条数上限
	defaultMaxItems = 200
	// languageSampleSize 语言检测取样长度
	languageSampleSize = 1000
	// llmSampleSize 大模型提取路径的文本取样长度
	llmSampleSize = 4000
	// llmConfidence 大模型提取结果的固定置信度
	llmConfidence = 0.9
	// llmMaxItems 大模型单次最多返回的需求条数
	llmMaxItems = 30
)

// Extractor 需求提取器
// 英语文本走规则提取，非英语文本委托给大模型
type Extractor struct {
	llm      llm.Client // 可选，非英语文本的提取路径
	logger   *logrus.Logger
	maxItems int
}

// Option 提取器配置选项
type Option func(*Extractor)

// WithLLMClient 设置大模型客户端
func WithLLMClient(client llm.Client) Option {
	return func(e *Extractor) {
		e.llm = client
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// WithMaxItems 设置提取条数上限
func WithMaxItems(max int) Option {
	return func(e *Extractor) {
		if max > 0 {
			e.maxItems = max
		}
	}
}

// New 创建需求提取器
func New(opts ...Option) *Extractor {
	e := &Extractor{
		logger:   logrus.New(),
		maxItems: defaultMaxItems,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract 从文档文本中提取需求条目
// 规则路径对合法输入不会报错；大模型路径失败时退化为空结果
func (e *Extractor) Extract(ctx context.Context, text string, pages []document.Page) ([]ExtractedRequirement, error) {
	if strings.TrimSpace(text) == "" {
		return []ExtractedRequirement{}, nil
	}

	// 用文本开头的样本判断语言
	sample := text
	if len(sample) > languageSampleSize {
		sample = sample[:languageSampleSize]
	}
	info := whatlanggo.Detect(sample)
	if info.Lang != whatlanggo.Eng && info.IsReliable() {
		return e.extractWithLLM(ctx, text, info.Lang)
	}

	requirements := make([]ExtractedRequirement, 0)
	seen := make(map[string]struct{})
	order := 0

	for _, sentence := range splitSentences(text) {
		sentence = strings.TrimSpace(sentence)

		if len(sentence) < minSentenceLength {
			continue
		}
		key := strings.ToLower(sentence)
		if _, dup := seen[key]; dup {
			continue
		}

		if !isRequirement(sentence) {
			continue
		}

		category, confidence, subCategory := categorize(sentence)

		requirements = append(requirements, ExtractedRequirement{
			Text:        sentence,
			Category:    category,
			SubCategory: subCategory,
			Confidence:  confidence,
			PageNumber:  findPageNumber(sentence, pages),
			Order:       order,
		})

		seen[key] = struct{}{}
		order++

		if len(requirements) >= e.maxItems {
			e.logger.WithField("max_items", e.maxItems).Warn("requirement extraction hit item ceiling")
			break
		}
	}

	// 规则提取一无所获时转投大模型，模型路径失败则带着零条需求继续
	if len(requirements) == 0 && e.llm != nil {
		e.logger.Info("rule-based extraction found no requirements, falling back to LLM")
		return e.extractWithLLM(ctx, text, info.Lang)
	}

	return requirements, nil
}

// splitSentences 将文本切分为候选句子
// 先保护常见缩写词的句点，再按句末标点和列表标记切分
func splitSentences(text string) []string {
	text = abbreviationPattern.ReplaceAllString(text, "$1<PERIOD> ")

	var sentences []string
	start := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		sentences = append(sentences, text[start:loc[0]+1])
		start = loc[1]
	}
	sentences = append(sentences, text[start:])

	var expanded []string
	for _, sentence := range sentences {
		sentence = strings.ReplaceAll(sentence, "<PERIOD>", ".")
		for _, item := range listMarkerPattern.Split(sentence, -1) {
			item = strings.TrimSpace(item)
			if item != "" {
				expanded = append(expanded, item)
			}
		}
	}

	return expanded
}

// isRequirement 判断句子是否像一条需求
func isRequirement(sentence string) bool {
	for _, p := range requirementIndicators {
		if p.MatchString(sentence) {
			return true
		}
	}
	for _, patterns := range [][]*regexp.Regexp{eligibilityPatterns, technicalPatterns, compliancePatterns} {
		for _, p := range patterns {
			if p.MatchString(sentence) {
				return true
			}
		}
	}
	return false
}

// subCategoryRule 子类别嗅探规则
type subCategoryRule struct {
	keywords []string
	name     string
}

var eligibilitySubCategories = []subCategoryRule{
	{[]string{"certification", "iso"}, "Certifications"},
	{[]string{"experience", "years"}, "Experience"},
	{[]string{"turnover", "revenue"}, "Financial"},
}

var technicalSubCategories = []subCategoryRule{
	{[]string{"security"}, "Security"},
	{[]string{"performance"}, "Performance"},
	{[]string{"integration"}, "Integration"},
}

var complianceSubCategories = []subCategoryRule{
	{[]string{"certificate"}, "Documentation"},
	{[]string{"declaration", "undertaking"}, "Declarations"},
}

// sniffSubCategory 返回第一条命中的子类别规则
func sniffSubCategory(sentenceLower string, rules []subCategoryRule) string {
	for _, rule := range rules {
		for _, kw := range rule.keywords {
			if strings.Contains(sentenceLower, kw) {
				return rule.name
			}
		}
	}
	return ""
}

// categorize 给需求句子分类
// 命中特征最多的类别胜出，平局归为技术类；
// 置信度 = 胜出类别命中数 / 总命中数，上限0.99。
// 子类别取第一条命中规则，不随后续命中改写
func categorize(sentence string) (models.RequirementCategory, float64, string) {
	sentenceLower := strings.ToLower(sentence)

	var eligibilityHits, technicalHits, complianceHits int
	var subCategory string

	for _, p := range eligibilityPatterns {
		if p.MatchString(sentence) {
			eligibilityHits++
			if subCategory == "" {
				subCategory = sniffSubCategory(sentenceLower, eligibilitySubCategories)
			}
		}
	}
	for _, p := range technicalPatterns {
		if p.MatchString(sentence) {
			technicalHits++
			if subCategory == "" {
				subCategory = sniffSubCategory(sentenceLower, technicalSubCategories)
			}
		}
	}
	for _, p := range compliancePatterns {
		if p.MatchString(sentence) {
			complianceHits++
			if subCategory == "" {
				subCategory = sniffSubCategory(sentenceLower, complianceSubCategories)
			}
		}
	}

	total := eligibilityHits + technicalHits + complianceHits
	if total == 0 {
		// 只命中了通用特征，默认技术类
		return models.CategoryTechnical, 0.5, ""
	}

	maxHits := eligibilityHits
	if technicalHits > maxHits {
		maxHits = technicalHits
	}
	if complianceHits > maxHits {
		maxHits = complianceHits
	}

	leaders := 0
	for _, hits := range []int{eligibilityHits, technicalHits, complianceHits} {
		if hits == maxHits {
			leaders++
		}
	}

	// 平局归为技术类
	category := models.CategoryTechnical
	if leaders == 1 {
		switch maxHits {
		case eligibilityHits:
			category = models.CategoryEligibility
		case technicalHits:
			category = models.CategoryTechnical
		case complianceHits:
			category = models.CategoryCompliance
		}
	}

	confidence := float64(maxHits) / float64(total)
	if confidence > 0.99 {
		confidence = 0.99
	}

	return category, confidence, subCategory
}

// findPageNumber 用句子开头在页面内容中定位页码
func findPageNumber(sentence string, pages []document.Page) *int {
	if len(pages) == 0 {
		return nil
	}

	prefix := strings.ToLower(sentence)
	if len(prefix) > 50 {
		prefix = prefix[:50]
	}

	for i := range pages {
		if strings.Contains(strings.ToLower(pages[i].Content), prefix) {
			num := pages[i].PageNum
			return &num
		}
	}
	return nil
}
