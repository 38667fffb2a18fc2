package outbreak

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const (
	msgOutbreakLabel       = "Outbreak likely"
	msgNormalLabel         = "Normal/stable"
	msgModelPath           = "trained Random Forest model for %s"
	msgHeuristicPath       = "heuristic fallback"
	msgOutbreakExplanation = "[%s] An outbreak is likely based on the current trend. Cases may grow by %.1f over the next 14 days."
	msgNormalExplanation   = "[%s] No outbreak expected (stable). Cases may grow by %.1f over the next 14 days."
)

var translations = map[language.Tag]map[string]string{
	language.Vietnamese: {
		msgOutbreakLabel:       "Có khả năng bùng phát",
		msgNormalLabel:         "Bình thường",
		msgModelPath:           "Mô hình Random Forest đã được huấn luyện theo (%s)",
		msgHeuristicPath:       "Phương pháp Heuristic (Demo)",
		msgOutbreakExplanation: "[%s] Dự đoán có khả năng bùng dịch dựa trên xu hướng. Số ca mắc có thể tăng %.1f trong vòng 14 ngày tới.",
		msgNormalExplanation:   "[%s] Dự đoán không có khả năng bùng dịch (ổn định). Số ca mắc có thể tăng %.1f trong vòng 14 ngày tới.",
	},
}

// Messages renders verdict text in one language. The interpolated values
// (logic path and 14-day growth) are the same in every language.
type Messages struct {
	tag     language.Tag
	printer *message.Printer
}

func NewMessages(lang string) (*Messages, error) {
	tag := language.English
	if lang != "" {
		parsed, err := language.Parse(lang)
		if err != nil {
			return nil, fmt.Errorf("parse language %q: %w", lang, err)
		}
		tag = parsed
	}

	builder := catalog.NewBuilder(catalog.Fallback(language.English))
	for _, key := range []string{msgOutbreakLabel, msgNormalLabel, msgModelPath, msgHeuristicPath, msgOutbreakExplanation, msgNormalExplanation} {
		if err := builder.SetString(language.English, key, key); err != nil {
			return nil, err
		}
	}
	for lt, entries := range translations {
		for key, msg := range entries {
			if err := builder.SetString(lt, key, msg); err != nil {
				return nil, err
			}
		}
	}

	return &Messages{
		tag:     tag,
		printer: message.NewPrinter(tag, message.Catalog(builder)),
	}, nil
}

func (m *Messages) Language() language.Tag {
	return m.tag
}

func (m *Messages) Label(class int) string {
	if class == 1 {
		return m.printer.Sprintf(msgOutbreakLabel)
	}
	return m.printer.Sprintf(msgNormalLabel)
}

func (m *Messages) LogicPath(path LogicPath, country string) string {
	if path == PathModel {
		return m.printer.Sprintf(msgModelPath, country)
	}
	return m.printer.Sprintf(msgHeuristicPath)
}

func (m *Messages) Explanation(class int, logic string, growth14d float64) string {
	if class == 1 {
		return m.printer.Sprintf(msgOutbreakExplanation, logic, growth14d)
	}
	return m.printer.Sprintf(msgNormalExplanation, logic, growth14d)
}
