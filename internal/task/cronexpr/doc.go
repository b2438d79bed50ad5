// Package cronexpr evaluates six-field cron expressions
// (second minute hour day-of-month month day-of-week).
//
// Each field accepts "*", a single value, comma lists, ranges ("a-b") and
// steps ("*/n", "a/n", "a-b/n"). Day-of-month and day-of-week also accept
// "?" meaning "no specific value". Months and weekdays accept three-letter
// English names; weekday 7 is an alias for Sunday.
//
// When both day fields are restricted a day matches if either matches;
// otherwise both must match (which means the restricted one decides).
package cronexpr
