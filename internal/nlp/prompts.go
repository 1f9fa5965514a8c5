package nlp

import (
	"fmt"
	"strings"
)

const intentSystemPrompt = `You classify the intent behind a local business search query.
Pick exactly one intent:
- search: find businesses ("coffee shops near me", "best gyms")
- book: reserve or order ("book a table for two", "order groceries")
- compare: weigh options ("is X better than Y", "cheapest of these")
- review: opinions about a place ("reviews for Cafe Mondegar")
- directions: how to get somewhere ("how do I get to Phoenix Mall")
- unknown: none of the above
Respond with the intent token and your confidence between 0 and 1.`

const categorySystemPromptTemplate = `You map a local business search query to one business category.
Valid categories: %s.
Conversational phrasings still map: "I'm hungry" is food, "my car is making
a noise" is automotive, "I need a haircut" is beauty, "where can I lift
weights" is fitness, "kids are bored" is entertainment.
Use "general" only when nothing fits. Give up to three alternative
categories from the same list, best first, and your confidence between 0
and 1.`

const entitiesSystemPrompt = `You extract entities from a local business search query.
Return:
- locations: city, area or neighbourhood names mentioned in the query
- business_names: proper names of specific businesses
- times: temporal expressions ("open now", "tonight", "sunday morning")
- prices: price words ("cheap", "expensive", "$$")
- features: desired attributes ("outdoor seating", "parking", "wifi")
Leave a list empty when the query has none of that entity. Do not infer
locations that are not in the text. Confidence is between 0 and 1.`

func categorySystemPrompt(rootIDs []string) string {
	return fmt.Sprintf(categorySystemPromptTemplate, strings.Join(rootIDs, ", "))
}

func userPrompt(query string) string {
	return "Query: " + query
}
