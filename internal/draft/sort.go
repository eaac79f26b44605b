package draft

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"termpost/internal/model"
)

// DefaultLocale is used when the user has no locale preference.
const DefaultLocale = "en"

// SortFileInfos orders attachments by upload time, breaking ties with a
// numeric-aware collation of the file name in the given locale.
func SortFileInfos(infos []model.FileInfo, locale string) []model.FileInfo {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.MustParse(DefaultLocale)
	}
	collator := collate.New(tag, collate.Numeric, collate.IgnoreCase)
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].CreateAt != infos[j].CreateAt {
			return infos[i].CreateAt < infos[j].CreateAt
		}
		return collator.CompareString(infos[i].Name, infos[j].Name) < 0
	})
	return infos
}
