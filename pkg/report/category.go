package report

type Category string

const (
	CategorySampah        Category = "SAMPAH"
	CategoryJalanRusak    Category = "JALAN_RUSAK"
	CategoryDrainase      Category = "DRAINASE"
	CategoryFasilitasUmum Category = "FASILITAS_UMUM"
	CategoryLampuJalan    Category = "LAMPU_JALAN"
	CategoryPolusi        Category = "POLUSI"
	CategoryTransportasi  Category = "TRANSPORTASI"
	CategoryKeamanan      Category = "KEAMANAN"
	CategoryLainnya       Category = "LAINNYA"
)

var AllCategories = []Category{
	CategorySampah,
	CategoryJalanRusak,
	CategoryDrainase,
	CategoryFasilitasUmum,
	CategoryLampuJalan,
	CategoryPolusi,
	CategoryTransportasi,
	CategoryKeamanan,
	CategoryLainnya,
}

func (c Category) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

type Visibility string

const (
	VisibilityPublic    Visibility = "PUBLIC"
	VisibilityPrivate   Visibility = "PRIVATE"
	VisibilityAnonymous Visibility = "ANONYMOUS"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityAnonymous:
		return true
	}
	return false
}
