package pollen

import (
	"fmt"
	"strings"
)

// City is a monitored city. Code is the canonical identifier used as the
// store key; Name is the display name; ID is the source-side identifier.
type City struct {
	Code string `json:"code"`
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Cities is the catalog of cities the pollen source covers.
var Cities = []City{
	{Code: "beijing", Name: "北京", ID: "101010100"},
	{Code: "yinchuan", Name: "银川", ID: "101170101"},
	{Code: "lanzhou", Name: "兰州", ID: "101160101"},
	{Code: "changchun", Name: "长春", ID: "101060101"},
	{Code: "xian", Name: "西安", ID: "101110101"},
	{Code: "taiyuan", Name: "太原", ID: "101100101"},
	{Code: "shenyang", Name: "沈阳", ID: "101070101"},
	{Code: "wulumuqi", Name: "乌鲁木齐", ID: "101130101"},
	{Code: "huhehaote", Name: "呼和浩特", ID: "101080101"},
	{Code: "liaocheng", Name: "聊城", ID: "101121701"},
	{Code: "zibo", Name: "淄博", ID: "101120301"},
	{Code: "chengde", Name: "承德", ID: "101090402"},
	{Code: "baotou", Name: "包头", ID: "101080201"},
	{Code: "eerduosi", Name: "鄂尔多斯", ID: "101080701"},
	{Code: "haerbin", Name: "哈尔滨", ID: "101050101"},
	{Code: "wulanhaote", Name: "乌兰浩特", ID: "101081101"},
	{Code: "haikou", Name: "海口", ID: "101310101"},
	{Code: "tianjin", Name: "天津", ID: "101030100"},
	{Code: "xining", Name: "西宁", ID: "101150101"},
	{Code: "cangzhou", Name: "沧州", ID: "101090701"},
	{Code: "chongqing", Name: "重庆", ID: "101040100"},
	{Code: "wuhan", Name: "武汉", ID: "101200101"},
	{Code: "shijiazhuang", Name: "石家庄", ID: "101090101"},
	{Code: "kunming", Name: "昆明市", ID: "101290101"},
	{Code: "botou", Name: "泊头", ID: "101090711"},
	{Code: "dalian", Name: "大连", ID: "101070201"},
	{Code: "jinan", Name: "济南", ID: "101120101"},
	{Code: "hangzhou", Name: "杭州", ID: "101210101"},
	{Code: "wuhai", Name: "乌海市", ID: "101080301"},
	{Code: "yantai", Name: "烟台", ID: "101120501"},
	{Code: "guangzhou", Name: "广州", ID: "101280101"},
	{Code: "baoding", Name: "保定", ID: "101090201"},
	{Code: "yangzhou", Name: "扬州", ID: "101190601"},
	{Code: "nanchong", Name: "南充", ID: "101270501"},
	{Code: "wuxi", Name: "无锡", ID: "101190201"},
	{Code: "fuzhou", Name: "福州", ID: "101230101"},
	{Code: "hefei", Name: "合肥", ID: "101220101"},
	{Code: "nanning", Name: "南宁", ID: "101300101"},
	{Code: "lasa", Name: "拉萨", ID: "101140101"},
	{Code: "guiyang", Name: "贵阳", ID: "101260101"},
	{Code: "nanchang", Name: "南昌", ID: "101240101"},
	{Code: "changsha", Name: "长沙", ID: "101250101"},
	{Code: "yanan", Name: "延安", ID: "101110300"},
	{Code: "liupanshui", Name: "六盘水", ID: "101260803"},
	{Code: "xianyang", Name: "咸阳", ID: "101110200"},
	{Code: "chengdu", Name: "成都", ID: "101270101"},
	{Code: "shanghai", Name: "上海", ID: "101020100"},
	{Code: "yulin", Name: "榆林", ID: "101110401"},
	{Code: "zhengzhou", Name: "郑州", ID: "101180101"},
}

var cityIndex = func() map[string]City {
	m := make(map[string]City, len(Cities))
	for _, c := range Cities {
		m[c.Code] = c
	}
	return m
}()

// LookupCity returns the catalog entry for a city code.
func LookupCity(code string) (City, bool) {
	c, ok := cityIndex[strings.ToLower(strings.TrimSpace(code))]
	return c, ok
}

// ResolveCities maps requested codes to catalog entries. An empty request
// means every known city. Duplicates are dropped, order is preserved.
func ResolveCities(codes []string) ([]City, error) {
	if len(codes) == 0 {
		out := make([]City, len(Cities))
		copy(out, Cities)
		return out, nil
	}

	seen := make(map[string]bool, len(codes))
	var out []City
	var unknown []string
	for _, code := range codes {
		c, ok := LookupCity(code)
		if !ok {
			unknown = append(unknown, code)
			continue
		}
		if seen[c.Code] {
			continue
		}
		seen[c.Code] = true
		out = append(out, c)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCity, strings.Join(unknown, ", "))
	}
	return out, nil
}
