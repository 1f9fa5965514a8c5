package taxonomy

// GeneralCategoryID is the reserved root the classifier collapses to when
// confidence is too low to commit to a real category. Carries no synonyms;
// authority overrides drop all category contributions when it wins.
const GeneralCategoryID = "general"

// defaultCategories is the static reference taxonomy. Roots first, then
// subcategories pointing at their parent. Synonyms and regional terms are
// matched lowercase.
var defaultCategories = []Category{
	{
		ID:       "food",
		Name:     "Food & Dining",
		Synonyms: []string{"restaurant", "restaurants", "dining", "eatery", "eat", "dinner", "lunch", "breakfast", "meal", "cuisine"},
		RegionalTerms: []string{
			"dhaba", "udipi", "mess", "bhojanalaya",
		},
	},
	{
		ID:       "shopping",
		Name:     "Shopping & Retail",
		Synonyms: []string{"shop", "store", "market", "mall", "boutique", "retail"},
		RegionalTerms: []string{
			"bazaar", "mandi",
		},
	},
	{
		ID:       "health",
		Name:     "Health & Medical",
		Synonyms: []string{"doctor", "medical", "healthcare", "medicine"},
		RegionalTerms: []string{
			"chemist", "dispensary",
		},
	},
	{
		ID:       "fitness",
		Name:     "Fitness & Sports",
		Synonyms: []string{"exercise", "workout", "sport", "sports", "training"},
	},
	{
		ID:       "beauty",
		Name:     "Beauty & Wellness",
		Synonyms: []string{"grooming", "makeup", "haircut"},
		RegionalTerms: []string{
			"parlour", "parlor",
		},
	},
	{
		ID:       "services",
		Name:     "Home & Local Services",
		Synonyms: []string{"service", "repair", "plumber", "electrician", "cleaning", "laundry"},
		RegionalTerms: []string{
			"istri", "presswala",
		},
	},
	{
		ID:       "entertainment",
		Name:     "Entertainment & Nightlife",
		Synonyms: []string{"fun", "nightlife", "club", "movie", "movies", "game", "games"},
	},
	{
		ID:       "education",
		Name:     "Education & Learning",
		Synonyms: []string{"school", "college", "course", "classes", "tuition", "learning"},
		RegionalTerms: []string{
			"coaching", "vidyalaya",
		},
	},
	{
		ID:       "travel",
		Name:     "Travel & Stay",
		Synonyms: []string{"hotel", "hotels", "stay", "lodge", "resort", "tourism"},
		RegionalTerms: []string{
			"dharamshala",
		},
	},
	{
		ID:       "automotive",
		Name:     "Automotive",
		Synonyms: []string{"car", "bike", "vehicle", "garage", "auto"},
	},
	{
		ID:   GeneralCategoryID,
		Name: "General",
	},

	// Subcategories.
	{ID: "restaurant_fine", Name: "Fine Dining", ParentID: "food", Synonyms: []string{"fine dining"}},
	{ID: "cafe", Name: "Cafes & Coffee", ParentID: "food", Synonyms: []string{"coffee", "cafes", "tea", "espresso"}, RegionalTerms: []string{"chai", "chaiwala"}},
	{ID: "bakery", Name: "Bakeries & Sweets", ParentID: "food", Synonyms: []string{"cake", "cakes", "pastry", "dessert", "desserts"}, RegionalTerms: []string{"mithai", "halwai"}},
	{ID: "fast_food", Name: "Fast Food", ParentID: "food", Synonyms: []string{"pizza", "burger", "burgers", "takeaway"}},
	{ID: "bar", Name: "Bars & Pubs", ParentID: "food", Synonyms: []string{"pub", "pubs", "brewery", "drinks"}},

	{ID: "grocery", Name: "Groceries", ParentID: "shopping", Synonyms: []string{"groceries", "supermarket", "provisions"}, RegionalTerms: []string{"kirana"}},
	{ID: "clothing", Name: "Clothing & Fashion", ParentID: "shopping", Synonyms: []string{"clothes", "apparel", "fashion", "garments"}},
	{ID: "electronics", Name: "Electronics", ParentID: "shopping", Synonyms: []string{"mobile", "mobiles", "laptop", "laptops", "gadgets"}},

	{ID: "hospital", Name: "Hospitals", ParentID: "health", Synonyms: []string{"hospitals", "emergency"}},
	{ID: "clinic", Name: "Clinics", ParentID: "health", Synonyms: []string{"clinics", "physician"}},
	{ID: "pharmacy", Name: "Pharmacies", ParentID: "health", Synonyms: []string{"pharmacies", "drugstore"}, RegionalTerms: []string{"medical store"}},
	{ID: "dental", Name: "Dental Care", ParentID: "health", Synonyms: []string{"dentist", "dentists"}},

	{ID: "gym", Name: "Gyms", ParentID: "fitness", Synonyms: []string{"gyms", "crossfit", "weightlifting"}, RegionalTerms: []string{"akhada"}},
	{ID: "yoga", Name: "Yoga Studios", ParentID: "fitness", Synonyms: []string{"pilates", "meditation"}},

	{ID: "salon", Name: "Salons", ParentID: "beauty", Synonyms: []string{"salons", "barber", "barbershop"}},
	{ID: "spa", Name: "Spas", ParentID: "beauty", Synonyms: []string{"spas", "massage"}},

	{ID: "cinema", Name: "Cinemas", ParentID: "entertainment", Synonyms: []string{"cinemas", "theatre", "theater", "multiplex"}},
	{ID: "gaming", Name: "Gaming Zones", ParentID: "entertainment", Synonyms: []string{"arcade", "bowling", "snooker"}},

	{ID: "car_repair", Name: "Car Repair", ParentID: "automotive", Synonyms: []string{"mechanic", "servicing"}},
	{ID: "car_wash", Name: "Car Wash", ParentID: "automotive"},
}

// multiWordPatterns are curated phrases resolved before word-by-word
// matching, so "work out" doesn't lose "out" to the stop-word set.
// Declaration order is match order, which keeps extraction deterministic.
var multiWordPatterns = []struct {
	Phrase string
	ID     string
}{
	{"work out", "fitness"},
	{"working out", "fitness"},
	{"coffee shop", "cafe"},
	{"coffee shops", "cafe"},
	{"medical store", "pharmacy"},
	{"beauty parlour", "salon"},
	{"beauty parlor", "salon"},
	{"fast food", "fast_food"},
	{"street food", "food"},
	{"fine dining", "restaurant_fine"},
	{"night club", "entertainment"},
	{"play area", "gaming"},
	{"sweet shop", "bakery"},
	{"general store", "grocery"},
}

// modelLabelMappings maps raw labels the classifier model tends to emit to
// taxonomy ids, used after exact/synonym/regional resolution fails.
var modelLabelMappings = map[string]string{
	"food & dining":        "food",
	"restaurants & food":   "food",
	"cafes & coffee":       "cafe",
	"health & medical":     "health",
	"fitness & gyms":       "fitness",
	"gyms & fitness":       "fitness",
	"beauty & spas":        "beauty",
	"shopping & retail":    "shopping",
	"home services":        "services",
	"local services":       "services",
	"arts & entertainment": "entertainment",
	"nightlife":            "entertainment",
	"hotels & travel":      "travel",
	"education & learning": "education",
	"automotive & repair":  "automotive",
	"other":                GeneralCategoryID,
	"misc":                 GeneralCategoryID,
}

// cityAliases maps legacy/alternate names to the canonical city name.
var cityAliases = map[string]string{
	"bombay":     "Mumbai",
	"bengaluru":  "Bangalore",
	"madras":     "Chennai",
	"calcutta":   "Kolkata",
	"gurugram":   "Gurgaon",
	"new delhi":  "Delhi",
	"poona":      "Pune",
	"mysuru":     "Mysore",
	"baroda":     "Vadodara",
	"trivandrum": "Thiruvananthapuram",
	"benares":    "Varanasi",
	"prayagraj":  "Allahabad",
}

// City is one known-city entry with coordinates for explicit-entity
// location resolution.
type City struct {
	Name  string
	State string
	Lat   float64
	Lng   float64
}

// knownCities keys are lowercase canonical names.
var knownCities = map[string]City{
	"mumbai":             {Name: "Mumbai", State: "Maharashtra", Lat: 19.0760, Lng: 72.8777},
	"delhi":              {Name: "Delhi", State: "Delhi", Lat: 28.6139, Lng: 77.2090},
	"bangalore":          {Name: "Bangalore", State: "Karnataka", Lat: 12.9716, Lng: 77.5946},
	"chennai":            {Name: "Chennai", State: "Tamil Nadu", Lat: 13.0827, Lng: 80.2707},
	"kolkata":            {Name: "Kolkata", State: "West Bengal", Lat: 22.5726, Lng: 88.3639},
	"hyderabad":          {Name: "Hyderabad", State: "Telangana", Lat: 17.3850, Lng: 78.4867},
	"pune":               {Name: "Pune", State: "Maharashtra", Lat: 18.5204, Lng: 73.8567},
	"ahmedabad":          {Name: "Ahmedabad", State: "Gujarat", Lat: 23.0225, Lng: 72.5714},
	"jaipur":             {Name: "Jaipur", State: "Rajasthan", Lat: 26.9124, Lng: 75.7873},
	"lucknow":            {Name: "Lucknow", State: "Uttar Pradesh", Lat: 26.8467, Lng: 80.9462},
	"gurgaon":            {Name: "Gurgaon", State: "Haryana", Lat: 28.4595, Lng: 77.0266},
	"noida":              {Name: "Noida", State: "Uttar Pradesh", Lat: 28.5355, Lng: 77.3910},
	"chandigarh":         {Name: "Chandigarh", State: "Chandigarh", Lat: 30.7333, Lng: 76.7794},
	"kochi":              {Name: "Kochi", State: "Kerala", Lat: 9.9312, Lng: 76.2673},
	"goa":                {Name: "Goa", State: "Goa", Lat: 15.2993, Lng: 74.1240},
	"indore":             {Name: "Indore", State: "Madhya Pradesh", Lat: 22.7196, Lng: 75.8577},
	"surat":              {Name: "Surat", State: "Gujarat", Lat: 21.1702, Lng: 72.8311},
	"mysore":             {Name: "Mysore", State: "Karnataka", Lat: 12.2958, Lng: 76.6394},
	"vadodara":           {Name: "Vadodara", State: "Gujarat", Lat: 22.3072, Lng: 73.1812},
	"varanasi":           {Name: "Varanasi", State: "Uttar Pradesh", Lat: 25.3176, Lng: 82.9739},
	"allahabad":          {Name: "Allahabad", State: "Uttar Pradesh", Lat: 25.4358, Lng: 81.8463},
	"thiruvananthapuram": {Name: "Thiruvananthapuram", State: "Kerala", Lat: 8.5241, Lng: 76.9366},
}

// stateAliases canonicalizes state names and abbreviations.
var stateAliases = map[string]string{
	"mh":          "Maharashtra",
	"ka":          "Karnataka",
	"tn":          "Tamil Nadu",
	"wb":          "West Bengal",
	"up":          "Uttar Pradesh",
	"mp":          "Madhya Pradesh",
	"orissa":      "Odisha",
	"pondicherry": "Puducherry",
}
