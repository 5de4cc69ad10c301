package models

// Category 是账目分类的封闭枚举。
// 分类集合是固定的，不接受自由字符串，未知值一律按 CategoryOthers 处理。
type Category string

const (
	CategoryFood          Category = "Food"
	CategoryEntertainment Category = "Entertainment"
	CategoryTravel        Category = "Travel"
	CategoryShopping      Category = "Shopping"
	CategorySavings       Category = "Savings"
	CategoryIncome        Category = "Income"
	CategoryOthers        Category = "Others"
	CategoryUtilities     Category = "Utilities"
)

// Categories 列出全部合法分类，顺序固定，方便前端直接展示。
var Categories = []Category{
	CategoryFood,
	CategoryEntertainment,
	CategoryTravel,
	CategoryShopping,
	CategorySavings,
	CategoryIncome,
	CategoryOthers,
	CategoryUtilities,
}

// Valid 判断分类是否在枚举集合内。
func (c Category) Valid() bool {
	switch c {
	case CategoryFood, CategoryEntertainment, CategoryTravel, CategoryShopping,
		CategorySavings, CategoryIncome, CategoryOthers, CategoryUtilities:
		return true
	}
	return false
}
