package collect

import "vodhub/internal/models"

// DefaultCategories seeds the canonical taxonomy on an empty database. The
// keyword columns feed the classifier's heuristic match; operators extend
// them through the admin CRUD layer.
func DefaultCategories() []models.Category {
	return []models.Category{
		{ID: 1, Name: "电影", Keywords: "电影,影片", Sort: 1, IsActive: true},
		{ID: 11, Name: "动作片", ParentID: 1, Keywords: "动作,功夫,武打", Sort: 1, IsActive: true},
		{ID: 12, Name: "喜剧片", ParentID: 1, Keywords: "喜剧,搞笑", Sort: 2, IsActive: true},
		{ID: 13, Name: "爱情片", ParentID: 1, Keywords: "爱情,言情,浪漫", Sort: 3, IsActive: true},
		{ID: 14, Name: "科幻片", ParentID: 1, Keywords: "科幻,魔幻,奇幻", Sort: 4, IsActive: true},
		{ID: 15, Name: "恐怖片", ParentID: 1, Keywords: "恐怖,惊悚", Sort: 5, IsActive: true},
		{ID: 16, Name: "剧情片", ParentID: 1, Keywords: "剧情,文艺", Sort: 6, IsActive: true},
		{ID: 17, Name: "战争片", ParentID: 1, Keywords: "战争,抗战,军旅", Sort: 7, IsActive: true},

		{ID: 2, Name: "电视剧", Keywords: "电视剧,连续剧", Sort: 2, IsActive: true},
		{ID: 21, Name: "国产剧", ParentID: 2, Keywords: "国产,大陆", Sort: 1, IsActive: true},
		{ID: 22, Name: "港台剧", ParentID: 2, Keywords: "香港,台湾,港台,TVB", Sort: 2, IsActive: true},
		{ID: 23, Name: "日韩剧", ParentID: 2, Keywords: "日本,韩国,日剧,韩剧", Sort: 3, IsActive: true},
		{ID: 24, Name: "欧美剧", ParentID: 2, Keywords: "欧美,美剧,英剧", Sort: 4, IsActive: true},
		{ID: 25, Name: "悬疑剧", ParentID: 2, Keywords: "悬疑,推理,犯罪", Sort: 5, IsActive: true},

		{ID: 3, Name: "综艺", Keywords: "综艺,晚会,真人秀,脱口秀", Sort: 3, IsActive: true},
		{ID: 4, Name: "动漫", Keywords: "动漫,动画,漫画", Sort: 4, IsActive: true},
		{ID: 5, Name: "短剧", Keywords: "短剧,微剧,竖屏", Sort: 5, IsActive: true},
	}
}
