package models

// DefaultLocations is the set of administrative regions offered by the location picker.
var DefaultLocations = []string{
	"臺北市", "臺中市", "高雄市", "新北市", "桃園市",
	"臺南市", "基隆市", "新竹縣", "苗栗縣", "彰化縣",
	"南投縣", "雲林縣", "嘉義縣", "屏東縣", "宜蘭縣",
	"花蓮縣", "臺東縣", "澎湖縣", "金門縣", "連江縣",
}
